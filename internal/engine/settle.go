package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"refnet.org/internal/member"
	"refnet.org/internal/obs"
	"refnet.org/internal/plan"
	"refnet.org/internal/tree"
)

// Settlement reports what a settlement run disbursed. Reporting output only;
// the financial writes are already committed row by row.
type Settlement struct {
	TriggeringMemberID string `json:"triggering_member_id"`
	Plan               string `json:"plan"`
	LevelsPaid         int    `json:"levels_paid"`
	TotalDisbursed     int64  `json:"total_disbursed"`
	WindowExtended     bool   `json:"window_extended"`
	// Replayed is true when at least one level had already been recorded by
	// an earlier run. LevelsPaid then counts only the levels this invocation
	// completed.
	Replayed bool `json:"replayed"`
}

// Settler walks the sponsor chain after a confirmed plan purchase and
// credits every qualifying ancestor from the plan's commission table.
type Settler struct {
	store    member.Store
	walker   *tree.Walker
	catalog  *plan.Catalog
	windows  *Windows
	notifier Notifier
}

func NewSettler(store member.Store, walker *tree.Walker, catalog *plan.Catalog, windows *Windows, notifier Notifier) *Settler {
	return &Settler{store: store, walker: walker, catalog: catalog, windows: windows, notifier: notifier}
}

// Settle credits up to plan.MaxCommissionLevels ancestors of the newly paid
// member and evaluates the earning-window extension for the direct sponsor.
//
// Idempotent per level: re-processing the same (member, plan) pair finds
// each recorded credit via the store's uniqueness constraint and skips it,
// so a retry after a mid-climb failure completes the unpaid levels without
// double-crediting the ones that landed.
func (s *Settler) Settle(ctx context.Context, newMemberID, planName string) (Settlement, error) {
	res := Settlement{TriggeringMemberID: newMemberID, Plan: planName}

	buyer, err := s.store.GetMember(ctx, newMemberID)
	if err != nil {
		return res, err
	}
	if buyer.SponsorID == "" {
		// Root members generate no upstream commission.
		return res, nil
	}

	snap, err := s.catalog.Current(ctx)
	if err != nil {
		return res, err
	}
	purchased, err := snap.Lookup(planName)
	if err != nil {
		return res, err
	}

	ancestors, err := s.walker.Ancestors(ctx, newMemberID, plan.MaxCommissionLevels)
	if err != nil {
		return res, err
	}

	for _, anc := range ancestors {
		if !anc.IsActive {
			// Deactivated account: no payout at this level, the climb continues.
			continue
		}
		amount, ok := purchased.CommissionAt(anc.Level)
		if !ok {
			continue
		}
		ev, err := s.store.CreditCommission(ctx, member.CommissionCredit{
			BeneficiaryID:      anc.ID,
			TriggeringMemberID: newMemberID,
			Plan:               purchased.Name,
			Level:              anc.Level,
			Amount:             amount,
		})
		if errors.Is(err, member.ErrDuplicateSettlement) {
			// This level landed in an earlier run; move on to any that did not.
			res.Replayed = true
			continue
		}
		if err != nil {
			return res, fmt.Errorf("credit level %d: %w", anc.Level, err)
		}
		res.LevelsPaid++
		res.TotalDisbursed += amount
		obs.CommissionCredited(anc.Level, amount)
		notify(ctx, s.notifier, Event{
			Type:     EventCommissionCredited,
			MemberID: anc.ID,
			Amount:   amount,
			Meta: map[string]string{
				"level":            strconv.Itoa(anc.Level),
				"plan":             purchased.Name,
				"triggering":       newMemberID,
				"commission_event": ev.ID,
			},
		})
	}

	if len(ancestors) > 0 && ancestors[0].Level == 1 {
		extended, err := s.extendSponsor(ctx, ancestors[0].Member, purchased.Tier, snap)
		if err != nil {
			// Extension is evaluated after the credits committed; surface
			// the error but keep the disbursement result intact.
			return res, fmt.Errorf("evaluate extension for sponsor %s: %w", ancestors[0].ID, err)
		}
		res.WindowExtended = extended
	}

	obs.SettlementProcessed(res.LevelsPaid)
	return res, nil
}

func (s *Settler) extendSponsor(ctx context.Context, sponsor member.Member, referredTier plan.Tier, snap *plan.Snapshot) (bool, error) {
	until, changed, err := s.windows.EvaluateExtension(ctx, sponsor, referredTier, snap)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	notify(ctx, s.notifier, Event{
		Type:     EventWindowExtended,
		MemberID: sponsor.ID,
		Meta: map[string]string{
			"earnings_continue_until": until.UTC().Format(time.RFC3339),
		},
	})
	return true, nil
}
