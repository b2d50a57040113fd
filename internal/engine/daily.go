package engine

import (
	"context"
	"time"

	"refnet.org/internal/member"
	"refnet.org/internal/obs"
	"refnet.org/internal/plan"
)

// DailyResult is returned to the task collaborator after a successful credit.
type DailyResult struct {
	MemberID            string `json:"member_id"`
	Amount              int64  `json:"amount"`
	Balance             int64  `json:"balance"`
	TotalEarnings       int64  `json:"total_earnings"`
	TaskEarnings        int64  `json:"task_earnings"`
	DailyTasksCompleted int    `json:"daily_tasks_completed"`
	IsExtendedPeriod    bool   `json:"is_extended_period"`
	// RemainingDays is ceil(time left in the earning window / 1 day),
	// for caller display only.
	RemainingDays int `json:"remaining_days"`
}

// Daily enforces at-most-one task-earning credit per member per calendar day.
type Daily struct {
	store    member.Store
	catalog  *plan.Catalog
	notifier Notifier
}

func NewDaily(store member.Store, catalog *plan.Catalog, notifier Notifier) *Daily {
	return &Daily{store: store, catalog: catalog, notifier: notifier}
}

// CreditDailyEarning credits the member's daily amount once per calendar day.
//
// Preconditions fail in order: unknown member, inactive membership or
// unrecognized plan, expired earning window, already credited today. The
// already-credited guard is re-checked by the store inside the credit
// transaction, so two concurrent calls cannot both pass.
func (d *Daily) CreditDailyEarning(ctx context.Context, memberID string, now time.Time) (DailyResult, error) {
	m, err := d.store.GetMember(ctx, memberID)
	if err != nil {
		return DailyResult{}, err
	}
	if m.MembershipStatus != member.StatusActive {
		return DailyResult{}, ErrMembershipNotActive
	}
	snap, err := d.catalog.Current(ctx)
	if err != nil {
		return DailyResult{}, err
	}
	p, err := snap.Lookup(m.MembershipPlan)
	if err != nil {
		return DailyResult{}, err
	}
	if m.EarningsContinueUntil == nil || now.After(*m.EarningsContinueUntil) {
		return DailyResult{}, ErrEarningWindowExpired
	}
	if m.LastTaskCompletionDate != nil && member.SameDay(*m.LastTaskCompletionDate, now) {
		return DailyResult{}, member.ErrAlreadyCreditedToday
	}

	extended := m.MembershipEndDate != nil && now.After(*m.MembershipEndDate)
	updated, ev, err := d.store.CreditDailyEarning(ctx, member.DailyCredit{
		MemberID:         memberID,
		Plan:             p.Name,
		Amount:           p.DailyTaskEarning,
		Day:              now,
		IsExtendedPeriod: extended,
	})
	if err != nil {
		return DailyResult{}, err
	}

	obs.TaskEarningCredited(ev.Amount)
	notify(ctx, d.notifier, Event{
		Type:     EventDailyCredited,
		MemberID: memberID,
		Amount:   ev.Amount,
		Meta:     map[string]string{"plan": p.Name, "task_event": ev.ID},
	})

	return DailyResult{
		MemberID:            memberID,
		Amount:              ev.Amount,
		Balance:             updated.Balance,
		TotalEarnings:       updated.TotalEarnings,
		TaskEarnings:        updated.TaskEarnings,
		DailyTasksCompleted: updated.DailyTasksCompleted,
		IsExtendedPeriod:    extended,
		RemainingDays:       remainingDays(*m.EarningsContinueUntil, now),
	}, nil
}

func remainingDays(until, now time.Time) int {
	left := until.Sub(now)
	if left <= 0 {
		return 0
	}
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return days
}
