package member

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"refnet.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by the
// engine tests and the smoke binary; production runs on the pg store.
type InMemory struct {
	mu      sync.RWMutex
	members map[string]*Member
	// settled guards the settlement idempotency key (triggering, plan, level).
	settled      map[string]CommissionEvent
	commissions  []CommissionEvent
	taskEarnings []TaskEarningEvent
	txs          []Transaction
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		members: make(map[string]*Member),
		settled: make(map[string]CommissionEvent),
	}
}

func settlementKey(triggeringID, plan string, level int) string {
	return fmt.Sprintf("%s|%s|%d", triggeringID, plan, level)
}

func (s *InMemory) CreateMember(ctx context.Context, m Member) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = ids.NewWithPrefix("mem")
	}
	if _, ok := s.members[m.ID]; ok {
		return Member{}, ErrAlreadyExists
	}
	if m.SponsorID != "" {
		if _, ok := s.members[m.SponsorID]; !ok {
			return Member{}, fmt.Errorf("sponsor %s: %w", m.SponsorID, ErrNotFound)
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.MembershipStatus == "" {
		m.MembershipStatus = StatusNone
	}
	cp := m
	s.members[m.ID] = &cp
	return m, nil
}

func (s *InMemory) GetMember(ctx context.Context, id string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return Member{}, ErrNotFound
	}
	return *m, nil
}

func (s *InMemory) ListBySponsorIDs(ctx context.Context, sponsorIDs []string) ([]Member, error) {
	want := make(map[string]struct{}, len(sponsorIDs))
	for _, id := range sponsorIDs {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for _, m := range s.members {
		if m.SponsorID == "" {
			continue
		}
		if _, ok := want[m.SponsorID]; ok {
			out = append(out, *m)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *InMemory) ListRoots(ctx context.Context) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for _, m := range s.members {
		if m.SponsorID == "" {
			out = append(out, *m)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *InMemory) UpdateSponsor(ctx context.Context, memberID, sponsorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	if sponsorID != "" {
		if _, ok := s.members[sponsorID]; !ok {
			return fmt.Errorf("sponsor %s: %w", sponsorID, ErrNotFound)
		}
	}
	m.SponsorID = sponsorID
	return nil
}

func (s *InMemory) ActivateMembership(ctx context.Context, memberID string, up MembershipUpdate) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return Member{}, ErrNotFound
	}

	start, end, until := up.StartDate, up.EndDate, up.EarningsContinueUntil
	m.MembershipPlan = up.Plan
	m.MembershipStatus = up.Status
	m.MembershipStartDate = &start
	m.MembershipEndDate = &end
	m.EarningsContinueUntil = &until
	m.Notified7Day = false
	m.Notified3Day = false
	if up.IncrementRenewal {
		m.RenewalCount++
	}

	s.txs = append(s.txs, Transaction{
		ID:          ids.NewWithPrefix("txn"),
		MemberID:    memberID,
		Kind:        TxPaymentReceived,
		Amount:      up.AmountPaid,
		Description: "membership activation: " + up.Plan,
		Status:      "completed",
		CreatedAt:   time.Now().UTC(),
	})
	return *m, nil
}

func (s *InMemory) CreditCommission(ctx context.Context, c CommissionCredit) (CommissionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := settlementKey(c.TriggeringMemberID, c.Plan, c.Level)
	if _, ok := s.settled[key]; ok {
		return CommissionEvent{}, ErrDuplicateSettlement
	}
	m, ok := s.members[c.BeneficiaryID]
	if !ok {
		return CommissionEvent{}, ErrNotFound
	}

	m.ReferralEarnings += c.Amount
	m.TotalEarnings += c.Amount
	m.Balance += c.Amount

	ev := CommissionEvent{
		ID:                 ids.NewWithPrefix("cev"),
		BeneficiaryID:      c.BeneficiaryID,
		TriggeringMemberID: c.TriggeringMemberID,
		Plan:               c.Plan,
		Level:              c.Level,
		Amount:             c.Amount,
		CreatedAt:          time.Now().UTC(),
	}
	s.settled[key] = ev
	s.commissions = append(s.commissions, ev)
	s.txs = append(s.txs, Transaction{
		ID:          ids.NewWithPrefix("txn"),
		MemberID:    c.BeneficiaryID,
		Kind:        TxReferralCommission,
		Amount:      c.Amount,
		Description: fmt.Sprintf("level %d referral commission", c.Level),
		Status:      "completed",
		Reference:   ev.ID,
		CreatedAt:   ev.CreatedAt,
	})
	return ev, nil
}

func (s *InMemory) CreditDailyEarning(ctx context.Context, c DailyCredit) (Member, TaskEarningEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[c.MemberID]
	if !ok {
		return Member{}, TaskEarningEvent{}, ErrNotFound
	}
	// Write-time guard: evaluated under the same lock as the credit so two
	// concurrent calls cannot both pass.
	day := Day(c.Day)
	if m.LastTaskCompletionDate != nil && SameDay(*m.LastTaskCompletionDate, day) {
		return Member{}, TaskEarningEvent{}, ErrAlreadyCreditedToday
	}

	m.TaskEarnings += c.Amount
	m.TotalEarnings += c.Amount
	m.Balance += c.Amount
	m.DailyTasksCompleted++
	m.LastTaskCompletionDate = &day

	ev := TaskEarningEvent{
		ID:               ids.NewWithPrefix("tev"),
		MemberID:         c.MemberID,
		Plan:             c.Plan,
		Amount:           c.Amount,
		TasksCompleted:   1,
		Date:             day,
		IsExtendedPeriod: c.IsExtendedPeriod,
	}
	s.taskEarnings = append(s.taskEarnings, ev)
	s.txs = append(s.txs, Transaction{
		ID:          ids.NewWithPrefix("txn"),
		MemberID:    c.MemberID,
		Kind:        TxTaskEarning,
		Amount:      c.Amount,
		Description: "daily task earning",
		Status:      "completed",
		Reference:   ev.ID,
		CreatedAt:   time.Now().UTC(),
	})
	return *m, ev, nil
}

func (s *InMemory) ExtendEarningWindow(ctx context.Context, memberID string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return false, ErrNotFound
	}
	// Monotone: never shorten an already-longer window.
	if m.EarningsContinueUntil != nil && !until.After(*m.EarningsContinueUntil) {
		return false, nil
	}
	u := until
	m.EarningsContinueUntil = &u
	return true, nil
}

func (s *InMemory) ListExpired(ctx context.Context, now time.Time, limit int) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for _, m := range s.members {
		if m.MembershipStatus != StatusActive || m.EarningsContinueUntil == nil {
			continue
		}
		if m.EarningsContinueUntil.Before(now) {
			out = append(out, *m)
		}
	}
	sortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkExpired(ctx context.Context, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	if m.MembershipStatus != StatusActive {
		return ErrInvalidState
	}
	m.MembershipStatus = StatusExpired
	return nil
}

func (s *InMemory) ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]Member, error) {
	deadline := now.Add(time.Duration(days) * 24 * time.Hour)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for _, m := range s.members {
		if m.MembershipStatus != StatusActive || m.EarningsContinueUntil == nil {
			continue
		}
		if notified(m, days) {
			continue
		}
		if !m.EarningsContinueUntil.Before(now) && m.EarningsContinueUntil.Before(deadline) {
			out = append(out, *m)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *InMemory) MarkExpiryNotified(ctx context.Context, memberID string, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	if days <= 3 {
		m.Notified3Day = true
	} else {
		m.Notified7Day = true
	}
	return nil
}

func (s *InMemory) CountMembers(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.members)
	active := 0
	for _, m := range s.members {
		if m.MembershipStatus == StatusActive {
			active++
		}
	}
	return total, active, nil
}

func (s *InMemory) TopEarners(ctx context.Context, n int) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalEarnings != out[j].TotalEarnings {
			return out[i].TotalEarnings > out[j].TotalEarnings
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *InMemory) ListCommissionEvents(ctx context.Context, beneficiaryID string, limit int) ([]CommissionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CommissionEvent
	for _, ev := range s.commissions {
		if beneficiaryID == "" || ev.BeneficiaryID == beneficiaryID {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) ListTaskEarnings(ctx context.Context, memberID string, limit int) ([]TaskEarningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TaskEarningEvent
	for _, ev := range s.taskEarnings {
		if memberID == "" || ev.MemberID == memberID {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, memberID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if memberID == "" || tx.MemberID == memberID {
			out = append(out, tx)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func notified(m *Member, days int) bool {
	if days <= 3 {
		return m.Notified3Day
	}
	return m.Notified7Day
}

func sortByID(ms []Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
