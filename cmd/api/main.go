package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"refnet.org/internal/analytics"
	"refnet.org/internal/engine"
	"refnet.org/internal/httpapi"
	"refnet.org/internal/member"
	"refnet.org/internal/obs"
	"refnet.org/internal/plan"
	"refnet.org/internal/store/pg"
	"refnet.org/internal/stream"
	"refnet.org/internal/tree"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

const planCacheTTL = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Store selection: PostgreSQL when a DSN is configured, in-memory
	// otherwise (local development and smoke runs).
	var (
		db     *sql.DB
		store  member.Store
		source plan.Source
	)
	if dsn := os.Getenv("REFNET_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgStore.DB()
		store = pgStore
		source = pg.NewPlanSource(pgStore)
	} else {
		log.Println("REFNET_PG_DSN not set, using in-memory store")
		store = member.NewInMemory()
		source = plan.StaticSource{Set: plan.Defaults()}
	}

	catalog := plan.NewCatalog(source, planCacheTTL)
	walker := tree.NewWalker(store)
	windows := engine.NewWindows(store)
	hub := stream.NewHub()
	settler := engine.NewSettler(store, walker, catalog, windows, hub)
	daily := engine.NewDaily(store, catalog, hub)
	lifecycle := engine.NewLifecycle(store, catalog, hub)
	network := analytics.NewService(store, walker)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Deps{
		Store:     store,
		Walker:    walker,
		Settler:   settler,
		Daily:     daily,
		Windows:   windows,
		Lifecycle: lifecycle,
		Network:   network,
		Catalog:   catalog,
		Hub:       hub,
	})

	addr := os.Getenv("REFNET_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting refnet-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
