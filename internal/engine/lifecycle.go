package engine

import (
	"context"
	"strconv"
	"time"

	"refnet.org/internal/member"
	"refnet.org/internal/obs"
	"refnet.org/internal/plan"
)

// Activation reports the result of a membership activation. The discount
// rate is informational: the external checkout collaborator does the
// charging, this core only reports what applies.
type Activation struct {
	Member          member.Member `json:"member"`
	Plan            string        `json:"plan"`
	DiscountPercent int           `json:"discount_percent"`
	AmountCharged   int64         `json:"amount_charged"`
}

// SweepResult summarizes one expiry sweep batch.
type SweepResult struct {
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Lifecycle transitions members between NONE, ACTIVE and EXPIRED.
type Lifecycle struct {
	store    member.Store
	catalog  *plan.Catalog
	notifier Notifier
	// sweepBatch bounds one ListExpired scan.
	sweepBatch int
}

func NewLifecycle(store member.Store, catalog *plan.Catalog, notifier Notifier) *Lifecycle {
	return &Lifecycle{store: store, catalog: catalog, notifier: notifier, sweepBatch: 500}
}

// Activate confirms a plan purchase: valid only from NONE or EXPIRED.
// Sets the membership window, resets the notice flags, and on renewals
// increments the renewal counter and reports the loyalty discount
// (1 prior renewal: 10%, 2+: 20%).
func (l *Lifecycle) Activate(ctx context.Context, memberID, planName string, now time.Time) (Activation, error) {
	m, err := l.store.GetMember(ctx, memberID)
	if err != nil {
		return Activation{}, err
	}
	if m.MembershipStatus == member.StatusActive {
		return Activation{}, ErrMembershipAlreadyActive
	}

	snap, err := l.catalog.Current(ctx)
	if err != nil {
		return Activation{}, err
	}
	p, err := snap.Lookup(planName)
	if err != nil {
		return Activation{}, err
	}

	discount := renewalDiscountPercent(m.RenewalCount)
	charged := p.Price - p.Price*int64(discount)/100

	end := now.Add(time.Duration(p.MaxEarningDays) * 24 * time.Hour)
	updated, err := l.store.ActivateMembership(ctx, memberID, member.MembershipUpdate{
		Plan:                  p.Name,
		Status:                member.StatusActive,
		StartDate:             now,
		EndDate:               end,
		EarningsContinueUntil: end,
		IncrementRenewal:      m.MembershipStatus == member.StatusExpired,
		AmountPaid:            charged,
	})
	if err != nil {
		return Activation{}, err
	}

	obs.MembershipActivated()
	notify(ctx, l.notifier, Event{
		Type:     EventMembershipActivated,
		MemberID: memberID,
		Amount:   charged,
		Meta: map[string]string{
			"plan":             p.Name,
			"discount_percent": strconv.Itoa(discount),
		},
	})
	return Activation{Member: updated, Plan: p.Name, DiscountPercent: discount, AmountCharged: charged}, nil
}

// renewalDiscountPercent maps prior renewals to the discount rate charged
// by the checkout collaborator: none for first-time buyers, 10% after one
// renewal, 20% from the second on.
func renewalDiscountPercent(priorRenewals int) int {
	switch {
	case priorRenewals >= 2:
		return 20
	case priorRenewals == 1:
		return 10
	default:
		return 0
	}
}

// SweepExpirations expires every ACTIVE member whose earning window elapsed
// before now. One corrupt row never aborts the batch: the failure is logged
// and the sweep moves on.
func (l *Lifecycle) SweepExpirations(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	for {
		batch, err := l.store.ListExpired(ctx, now, l.sweepBatch)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			return res, nil
		}
		progressed := false
		for _, m := range batch {
			if err := l.store.MarkExpired(ctx, m.ID); err != nil {
				res.Failed++
				obs.LogEvent(map[string]any{
					"level":     "error",
					"msg":       "expiry sweep: mark expired failed",
					"member_id": m.ID,
					"error":     err.Error(),
				})
				continue
			}
			progressed = true
			res.Expired++
			obs.MembershipExpired()
			notify(ctx, l.notifier, Event{
				Type:     EventMembershipExpired,
				MemberID: m.ID,
				Meta:     map[string]string{"plan": m.MembershipPlan},
			})
		}
		if !progressed {
			// Every row in the batch failed; bail out rather than spin on them.
			return res, nil
		}
	}
}

// SendExpiryNotices emits the advisory 3-day and 7-day approaching-expiry
// notifications. Each notice goes out at most once per window; the guard
// flags reset on renewal.
func (l *Lifecycle) SendExpiryNotices(ctx context.Context, now time.Time) error {
	within3, err := l.store.ListExpiringWithin(ctx, now, 3)
	if err != nil {
		return err
	}
	threeDay := make(map[string]struct{}, len(within3))
	for _, m := range within3 {
		threeDay[m.ID] = struct{}{}
		l.sendNotice(ctx, m, 3)
	}

	within7, err := l.store.ListExpiringWithin(ctx, now, 7)
	if err != nil {
		return err
	}
	for _, m := range within7 {
		if _, ok := threeDay[m.ID]; ok {
			continue
		}
		if m.Notified3Day {
			// Already inside the tighter window; the 7-day warning is moot.
			continue
		}
		l.sendNotice(ctx, m, 7)
	}
	return nil
}

func (l *Lifecycle) sendNotice(ctx context.Context, m member.Member, days int) {
	if err := l.store.MarkExpiryNotified(ctx, m.ID, days); err != nil {
		obs.LogEvent(map[string]any{
			"level":     "error",
			"msg":       "expiry notice: mark notified failed",
			"member_id": m.ID,
			"error":     err.Error(),
		})
		return
	}
	notify(ctx, l.notifier, Event{
		Type:     EventMembershipExpiring,
		MemberID: m.ID,
		Meta: map[string]string{
			"days_left": strconv.Itoa(days),
			"plan":      m.MembershipPlan,
		},
	})
}
