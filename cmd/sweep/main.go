// Command sweep runs one expiry pass: it expires every member whose earning
// window has elapsed and sends the approaching-expiry notices. Intended to
// run from cron.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"refnet.org/internal/engine"
	"refnet.org/internal/obs"
	"refnet.org/internal/plan"
	"refnet.org/internal/store/pg"
)

const planCacheTTL = 5 * time.Minute

func main() {
	_ = godotenv.Load()
	obs.Init()

	dsn := os.Getenv("REFNET_PG_DSN")
	if dsn == "" {
		log.Fatal("REFNET_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	catalog := plan.NewCatalog(pg.NewPlanSource(store), planCacheTTL)
	lifecycle := engine.NewLifecycle(store, catalog, engine.NopNotifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	now := time.Now().UTC()

	res, err := lifecycle.SweepExpirations(ctx, now)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}
	log.Printf("sweep complete: expired=%d failed=%d", res.Expired, res.Failed)

	if err := lifecycle.SendExpiryNotices(ctx, now); err != nil {
		log.Fatalf("expiry notices: %v", err)
	}
	log.Println("expiry notices sent")
}
