package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"refnet.org/internal/member"
)

func TestActivateFirstPurchase(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m, _ := r.store.CreateMember(ctx, member.Member{Name: "buyer", IsActive: true})

	act, err := r.lifecycle.Activate(ctx, m.ID, "basic", now)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if act.Plan != "BASIC" {
		t.Fatalf("plan: %s", act.Plan)
	}
	if act.DiscountPercent != 0 || act.AmountCharged != 1000 {
		t.Fatalf("first purchase pricing: %d%% charged=%d", act.DiscountPercent, act.AmountCharged)
	}
	if act.Member.MembershipStatus != member.StatusActive {
		t.Fatalf("status: %s", act.Member.MembershipStatus)
	}

	wantEnd := now.Add(30 * 24 * time.Hour)
	if act.Member.MembershipEndDate == nil || !act.Member.MembershipEndDate.Equal(wantEnd) {
		t.Fatalf("end date: %v", act.Member.MembershipEndDate)
	}
	if act.Member.EarningsContinueUntil == nil || !act.Member.EarningsContinueUntil.Equal(wantEnd) {
		t.Fatalf("earning window: %v", act.Member.EarningsContinueUntil)
	}
	if got := len(r.events.byType(EventMembershipActivated)); got != 1 {
		t.Fatalf("expected one activation event, got %d", got)
	}
}

func TestActivateAlreadyActive(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()
	chain := r.seedActiveChain(t, 1, "BASIC", now)

	_, err := r.lifecycle.Activate(ctx, chain[0], "PREMIUM", now)
	if !errors.Is(err, ErrMembershipAlreadyActive) {
		t.Fatalf("expected ErrMembershipAlreadyActive, got %v", err)
	}
}

func TestRenewalDiscountProgression(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m, _ := r.store.CreateMember(ctx, member.Member{Name: "loyal", IsActive: true})

	// Prior renewals -> discount: 0 -> 0%, 1 -> 10%, 2+ -> 20%.
	steps := []struct {
		discount int
		charged  int64
	}{
		{0, 1000},
		{0, 1000},
		{10, 900},
		{20, 800},
		{20, 800},
	}
	for i, step := range steps {
		act, err := r.lifecycle.Activate(ctx, m.ID, "BASIC", now)
		if err != nil {
			t.Fatalf("activation %d: %v", i, err)
		}
		if act.DiscountPercent != step.discount || act.AmountCharged != step.charged {
			t.Fatalf("activation %d: discount=%d charged=%d, want %d/%d",
				i, act.DiscountPercent, act.AmountCharged, step.discount, step.charged)
		}
		if err := r.store.MarkExpired(ctx, m.ID); err != nil {
			t.Fatalf("expire %d: %v", i, err)
		}
	}
}

func TestActivateUnknownMemberAndPlan(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := r.lifecycle.Activate(ctx, "missing", "BASIC", now); !errors.Is(err, member.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	m, _ := r.store.CreateMember(ctx, member.Member{Name: "buyer"})
	if _, err := r.lifecycle.Activate(ctx, m.ID, "DIAMOND", now); err == nil {
		t.Fatalf("expected unknown plan error")
	}
}

type sweepFailStore struct {
	member.Store
	failID string
}

func (s sweepFailStore) MarkExpired(ctx context.Context, memberID string) error {
	if memberID == s.failID {
		return errors.New("row corrupt")
	}
	return s.Store.MarkExpired(ctx, memberID)
}

func TestSweepExpirations(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-40 * 24 * time.Hour)

	expired := r.seedActiveChain(t, 2, "BASIC", past)
	fresh := r.seedActiveChain(t, 1, "BASIC", now)

	res, err := r.lifecycle.SweepExpirations(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpirations: %v", err)
	}
	if res.Expired != 2 || res.Failed != 0 {
		t.Fatalf("sweep result: %+v", res)
	}
	for _, id := range expired {
		if got := r.mustGet(t, id).MembershipStatus; got != member.StatusExpired {
			t.Fatalf("member %s not expired: %s", id, got)
		}
	}
	if got := r.mustGet(t, fresh[0]).MembershipStatus; got != member.StatusActive {
		t.Fatalf("fresh member swept: %s", got)
	}
	if got := len(r.events.byType(EventMembershipExpired)); got != 2 {
		t.Fatalf("expected 2 expiry events, got %d", got)
	}
}

func TestSweepExpirationsToleratesRowFailure(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-40 * 24 * time.Hour)
	chain := r.seedActiveChain(t, 3, "BASIC", past)

	lc := NewLifecycle(sweepFailStore{Store: r.store, failID: chain[0]}, r.catalog, r.events)
	res, err := lc.SweepExpirations(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpirations: %v", err)
	}
	if res.Expired != 2 {
		t.Fatalf("healthy rows not expired: %+v", res)
	}
	if res.Failed == 0 {
		t.Fatalf("failure not counted: %+v", res)
	}
	if got := r.mustGet(t, chain[1]).MembershipStatus; got != member.StatusExpired {
		t.Fatalf("member after failing row not expired: %s", got)
	}
}

func TestSendExpiryNoticesOncePerWindow(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Activated 28 days ago: 2 days left, inside both notice windows.
	soon := r.seedActiveChain(t, 1, "BASIC", now.Add(-28*24*time.Hour))
	// Activated 25 days ago: 5 days left, 7-day window only.
	later := r.seedActiveChain(t, 1, "BASIC", now.Add(-25*24*time.Hour))

	if err := r.lifecycle.SendExpiryNotices(ctx, now); err != nil {
		t.Fatalf("SendExpiryNotices: %v", err)
	}
	notices := r.events.byType(EventMembershipExpiring)
	if len(notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(notices))
	}
	byMember := map[string]string{}
	for _, evt := range notices {
		byMember[evt.MemberID] = evt.Meta["days_left"]
	}
	if byMember[soon[0]] != "3" {
		t.Fatalf("member with 2 days left got %q notice", byMember[soon[0]])
	}
	if byMember[later[0]] != "7" {
		t.Fatalf("member with 5 days left got %q notice", byMember[later[0]])
	}

	// A second pass sends nothing: the flags persist until renewal.
	if err := r.lifecycle.SendExpiryNotices(ctx, now); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if got := len(r.events.byType(EventMembershipExpiring)); got != 2 {
		t.Fatalf("notices repeated: %d", got)
	}
}
