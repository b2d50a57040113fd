package member

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateMemberAssignsID(t *testing.T) {
	s := NewInMemory()
	m, err := s.CreateMember(context.Background(), Member{Name: "root", IsActive: true})
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	if m.ID == "" {
		t.Fatalf("expected generated id")
	}
	if m.MembershipStatus != StatusNone {
		t.Fatalf("unexpected status: %s", m.MembershipStatus)
	}
}

func TestCreateMemberUnknownSponsor(t *testing.T) {
	s := NewInMemory()
	_, err := s.CreateMember(context.Background(), Member{Name: "orphan", SponsorID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreditCommissionIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	sponsor, _ := s.CreateMember(ctx, Member{Name: "sponsor"})
	buyer, _ := s.CreateMember(ctx, Member{Name: "buyer", SponsorID: sponsor.ID})

	credit := CommissionCredit{
		BeneficiaryID:      sponsor.ID,
		TriggeringMemberID: buyer.ID,
		Plan:               "BASIC",
		Level:              1,
		Amount:             200,
	}
	if _, err := s.CreditCommission(ctx, credit); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if _, err := s.CreditCommission(ctx, credit); !errors.Is(err, ErrDuplicateSettlement) {
		t.Fatalf("expected ErrDuplicateSettlement, got %v", err)
	}

	got, _ := s.GetMember(ctx, sponsor.ID)
	if got.Balance != 200 || got.ReferralEarnings != 200 || got.TotalEarnings != 200 {
		t.Fatalf("double credit: balance=%d referral=%d total=%d", got.Balance, got.ReferralEarnings, got.TotalEarnings)
	}

	// A different level of the same settlement is a distinct key.
	credit.Level = 2
	credit.BeneficiaryID = sponsor.ID
	if _, err := s.CreditCommission(ctx, credit); err != nil {
		t.Fatalf("second level credit: %v", err)
	}
}

func TestCreditDailyEarningConcurrent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m, _ := s.CreateMember(ctx, Member{Name: "worker"})
	now := time.Now().UTC()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.CreditDailyEarning(ctx, DailyCredit{
				MemberID: m.ID,
				Plan:     "BASIC",
				Amount:   50,
				Day:      now,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrAlreadyCreditedToday):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || dup != attempts-1 {
		t.Fatalf("expected exactly one credit, got success=%d dup=%d", success, dup)
	}

	got, _ := s.GetMember(ctx, m.ID)
	if got.TaskEarnings != 50 || got.DailyTasksCompleted != 1 {
		t.Fatalf("unexpected state after concurrent credits: %+v", got)
	}
}

func TestCreditDailyEarningNextDay(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m, _ := s.CreateMember(ctx, Member{Name: "worker"})
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 10, 0, 0, time.UTC)

	if _, _, err := s.CreditDailyEarning(ctx, DailyCredit{MemberID: m.ID, Plan: "BASIC", Amount: 50, Day: day1}); err != nil {
		t.Fatalf("day 1 credit: %v", err)
	}
	if _, _, err := s.CreditDailyEarning(ctx, DailyCredit{MemberID: m.ID, Plan: "BASIC", Amount: 50, Day: day1}); !errors.Is(err, ErrAlreadyCreditedToday) {
		t.Fatalf("expected ErrAlreadyCreditedToday, got %v", err)
	}
	updated, _, err := s.CreditDailyEarning(ctx, DailyCredit{MemberID: m.ID, Plan: "BASIC", Amount: 50, Day: day2})
	if err != nil {
		t.Fatalf("day 2 credit: %v", err)
	}
	if updated.DailyTasksCompleted != 2 || updated.TaskEarnings != 100 {
		t.Fatalf("unexpected state after two days: %+v", updated)
	}
}

func TestExtendEarningWindowMonotone(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m, _ := s.CreateMember(ctx, Member{Name: "sponsor"})
	far := time.Now().UTC().Add(60 * 24 * time.Hour)
	near := time.Now().UTC().Add(30 * 24 * time.Hour)

	changed, err := s.ExtendEarningWindow(ctx, m.ID, far)
	if err != nil || !changed {
		t.Fatalf("first extension: changed=%v err=%v", changed, err)
	}
	changed, err = s.ExtendEarningWindow(ctx, m.ID, near)
	if err != nil || changed {
		t.Fatalf("shorter extension must be a no-op: changed=%v err=%v", changed, err)
	}
	got, _ := s.GetMember(ctx, m.ID)
	if !got.EarningsContinueUntil.Equal(far) {
		t.Fatalf("window shrank: %v", got.EarningsContinueUntil)
	}
}

func TestMarkExpiredRequiresActive(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m, _ := s.CreateMember(ctx, Member{Name: "m"})

	if err := s.MarkExpired(ctx, m.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for NONE status, got %v", err)
	}
	if err := s.MarkExpired(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpiringWithinSkipsNotified(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	until := now.Add(2 * 24 * time.Hour)

	m, _ := s.CreateMember(ctx, Member{Name: "soon"})
	if _, err := s.ActivateMembership(ctx, m.ID, MembershipUpdate{
		Plan:                  "BASIC",
		Status:                StatusActive,
		StartDate:             now.Add(-28 * 24 * time.Hour),
		EndDate:               until,
		EarningsContinueUntil: until,
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	got, err := s.ListExpiringWithin(ctx, now, 3)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one expiring member, got %d (err=%v)", len(got), err)
	}
	if err := s.MarkExpiryNotified(ctx, m.ID, 3); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	got, err = s.ListExpiringWithin(ctx, now, 3)
	if err != nil || len(got) != 0 {
		t.Fatalf("notified member listed again: %d (err=%v)", len(got), err)
	}
	// The 7-day flag is independent.
	got, err = s.ListExpiringWithin(ctx, now, 7)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected member in 7-day list, got %d (err=%v)", len(got), err)
	}
}

func TestActivateMembershipResetsNoticeFlags(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	m, _ := s.CreateMember(ctx, Member{Name: "renewer"})

	end := now.Add(30 * 24 * time.Hour)
	if _, err := s.ActivateMembership(ctx, m.ID, MembershipUpdate{
		Plan: "BASIC", Status: StatusActive,
		StartDate: now, EndDate: end, EarningsContinueUntil: end,
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	_ = s.MarkExpiryNotified(ctx, m.ID, 7)
	_ = s.MarkExpired(ctx, m.ID)

	updated, err := s.ActivateMembership(ctx, m.ID, MembershipUpdate{
		Plan: "BASIC", Status: StatusActive,
		StartDate: now, EndDate: end, EarningsContinueUntil: end,
		IncrementRenewal: true, AmountPaid: 900,
	})
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if updated.Notified7Day || updated.Notified3Day {
		t.Fatalf("notice flags survived renewal: %+v", updated)
	}
	if updated.RenewalCount != 1 {
		t.Fatalf("renewal count: %d", updated.RenewalCount)
	}

	txs, _ := s.ListTransactions(ctx, m.ID, 0)
	if len(txs) != 2 {
		t.Fatalf("expected two payment transactions, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.Kind != TxPaymentReceived {
			t.Fatalf("unexpected transaction kind: %s", tx.Kind)
		}
	}
}

func TestListBySponsorIDsBatch(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a, _ := s.CreateMember(ctx, Member{Name: "a"})
	b, _ := s.CreateMember(ctx, Member{Name: "b"})
	_, _ = s.CreateMember(ctx, Member{Name: "a1", SponsorID: a.ID})
	_, _ = s.CreateMember(ctx, Member{Name: "a2", SponsorID: a.ID})
	_, _ = s.CreateMember(ctx, Member{Name: "b1", SponsorID: b.ID})

	kids, err := s.ListBySponsorIDs(ctx, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("ListBySponsorIDs: %v", err)
	}
	if len(kids) != 3 {
		t.Fatalf("expected 3 children, got %d", len(kids))
	}
	roots, err := s.ListRoots(ctx)
	if err != nil || len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d (err=%v)", len(roots), err)
	}
}
