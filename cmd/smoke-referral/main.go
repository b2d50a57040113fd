// Command smoke-referral runs the settlement path end to end against the
// in-memory store and verifies the invariants the service guarantees:
// 5-level fan-out, settlement idempotency, the once-per-day earning guard
// and the sponsor's window extension.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"refnet.org/internal/engine"
	"refnet.org/internal/member"
	"refnet.org/internal/plan"
	"refnet.org/internal/stream"
	"refnet.org/internal/tree"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := member.NewInMemory()
	catalog := plan.NewCatalog(plan.StaticSource{Set: plan.Defaults()}, time.Minute)
	walker := tree.NewWalker(store)
	windows := engine.NewWindows(store)
	hub := stream.NewHub()
	settler := engine.NewSettler(store, walker, catalog, windows, hub)
	daily := engine.NewDaily(store, catalog, hub)
	lifecycle := engine.NewLifecycle(store, catalog, hub)

	now := time.Now().UTC()

	// A 6-deep sponsor chain: the buyer at the bottom, five ancestors above.
	var chain []member.Member
	sponsorID := ""
	for i := 0; i < 6; i++ {
		m, err := store.CreateMember(ctx, member.Member{
			Name:      fmt.Sprintf("smoke-%d", i),
			SponsorID: sponsorID,
			IsActive:  true,
		})
		if err != nil {
			log.Fatalf("create member %d: %v", i, err)
		}
		if _, err := lifecycle.Activate(ctx, m.ID, "BASIC", now); err != nil {
			log.Fatalf("activate member %d: %v", i, err)
		}
		chain = append(chain, m)
		sponsorID = m.ID
	}
	buyer := chain[len(chain)-1]

	res, err := settler.Settle(ctx, buyer.ID, "BASIC")
	if err != nil {
		log.Fatalf("settle: %v", err)
	}
	if res.LevelsPaid != 5 {
		log.Fatalf("expected 5 levels paid, got %d", res.LevelsPaid)
	}
	if res.TotalDisbursed != 200+100+50+25+10 {
		log.Fatalf("unexpected total disbursed: %d", res.TotalDisbursed)
	}
	if !res.WindowExtended {
		log.Fatal("expected the direct sponsor's window to extend")
	}

	// A replay must be a no-op, not a double credit.
	replay, err := settler.Settle(ctx, buyer.ID, "BASIC")
	if err != nil {
		log.Fatalf("settle replay: %v", err)
	}
	if !replay.Replayed || replay.LevelsPaid != 0 {
		log.Fatalf("replay was not a no-op: %+v", replay)
	}

	sponsor, err := store.GetMember(ctx, chain[4].ID)
	if err != nil {
		log.Fatalf("reload sponsor: %v", err)
	}
	if sponsor.ReferralEarnings != 200 {
		log.Fatalf("sponsor level-1 commission wrong: %d", sponsor.ReferralEarnings)
	}

	// Daily earning credits once, then refuses until the next calendar day.
	if _, err := daily.CreditDailyEarning(ctx, buyer.ID, now); err != nil {
		log.Fatalf("daily earning: %v", err)
	}
	if _, err := daily.CreditDailyEarning(ctx, buyer.ID, now); !errors.Is(err, member.ErrAlreadyCreditedToday) {
		log.Fatalf("expected already-credited-today, got %v", err)
	}

	fmt.Printf("✅ referral smoke test passed: buyer=%s disbursed=%d\n", buyer.ID, res.TotalDisbursed)
}
