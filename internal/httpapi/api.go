package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"refnet.org/internal/analytics"
	"refnet.org/internal/engine"
	"refnet.org/internal/member"
	"refnet.org/internal/obs"
	"refnet.org/internal/plan"
	"refnet.org/internal/stream"
	"refnet.org/internal/tree"
)

// ReadyProbe checks readiness (e.g. ping the database).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the engine components the HTTP layer fronts.
type Deps struct {
	Store     member.Store
	Walker    *tree.Walker
	Settler   *engine.Settler
	Daily     *engine.Daily
	Windows   *engine.Windows
	Lifecycle *engine.Lifecycle
	Network   *analytics.Service
	Catalog   *plan.Catalog
	Hub       *stream.Hub
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	store     member.Store
	walker    *tree.Walker
	settler   *engine.Settler
	daily     *engine.Daily
	windows   *engine.Windows
	lifecycle *engine.Lifecycle
	network   *analytics.Service
	catalog   *plan.Catalog
	hub       *stream.Hub

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		store:      deps.Store,
		walker:     deps.Walker,
		settler:    deps.Settler,
		daily:      deps.Daily,
		windows:    deps.Windows,
		lifecycle:  deps.Lifecycle,
		network:    deps.Network,
		catalog:    deps.Catalog,
		hub:        deps.Hub,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// service tokens
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// referral engine surface
	a.mux.HandleFunc("/v1/members", a.handleMembersCollection)
	a.mux.HandleFunc("/v1/members/", a.handleMemberResource)
	a.mux.HandleFunc("/v1/purchases", a.handlePurchases)
	a.mux.HandleFunc("/v1/plans", a.handlePlans)
	a.mux.HandleFunc("/v1/network/stats", a.handleNetworkStats)

	// notification event feed (SSE)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
