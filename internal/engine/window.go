package engine

import (
	"context"
	"time"

	"refnet.org/internal/member"
	"refnet.org/internal/plan"
)

// Windows is the earning-window state machine: it answers whether a member
// may earn right now and applies the referral-triggered extension rule.
type Windows struct {
	store member.Store
}

func NewWindows(store member.Store) *Windows {
	return &Windows{store: store}
}

// CanEarnToday reports whether the member is inside their earning window
// and has not yet been credited on the calendar date of now.
func (w *Windows) CanEarnToday(ctx context.Context, memberID string, now time.Time) (bool, error) {
	m, err := w.store.GetMember(ctx, memberID)
	if err != nil {
		return false, err
	}
	if m.MembershipStatus != member.StatusActive {
		return false, nil
	}
	if m.EarningsContinueUntil == nil || now.After(*m.EarningsContinueUntil) {
		return false, nil
	}
	if m.LastTaskCompletionDate != nil && member.SameDay(*m.LastTaskCompletionDate, now) {
		return false, nil
	}
	return true, nil
}

// EvaluateExtension applies the extension rule for a direct sponsor whose
// referred member's plan purchase was just confirmed.
//
// A sponsor on tier T qualifies only when the referred tier is >= T, and
// only while the sponsor's membership is ACTIVE. The applied deadline is
// max(current, sponsor start + extendedEarningDays): monotone
// non-decreasing, so a later but smaller window never shortens an earlier
// one. Returns the new deadline and whether anything changed.
func (w *Windows) EvaluateExtension(ctx context.Context, sponsor member.Member, referredTier plan.Tier, snap *plan.Snapshot) (time.Time, bool, error) {
	if sponsor.MembershipStatus != member.StatusActive || sponsor.MembershipStartDate == nil {
		return time.Time{}, false, nil
	}
	sponsorPlan, err := snap.Lookup(sponsor.MembershipPlan)
	if err != nil {
		return time.Time{}, false, err
	}
	if referredTier < sponsorPlan.Tier {
		return time.Time{}, false, nil
	}

	candidate := sponsor.MembershipStartDate.Add(time.Duration(sponsorPlan.ExtendedEarningDays) * 24 * time.Hour)
	changed, err := w.store.ExtendEarningWindow(ctx, sponsor.ID, candidate)
	if err != nil {
		return time.Time{}, false, err
	}
	if !changed {
		return time.Time{}, false, nil
	}
	return candidate, true, nil
}
