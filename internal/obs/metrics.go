package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Engine metrics.
var (
	settlementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Completed commission settlement runs.",
	})

	settlementLevelsPaid = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_levels_paid",
		Help:    "Ancestor levels paid per settlement run.",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	commissionPaidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_paid_total",
			Help: "Commission amount disbursed, in minor units.",
		},
		[]string{"level"},
	)

	taskCreditsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "task_credits_total",
		Help: "Daily task-earning credits applied.",
	})

	taskCreditAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "task_credit_amount_total",
		Help: "Task-earning amount credited, in minor units.",
	})

	membershipsActivatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memberships_activated_total",
		Help: "Membership activations, including renewals.",
	})

	membershipsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memberships_expired_total",
		Help: "Memberships expired by the sweep.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		settlementsTotal, settlementLevelsPaid, commissionPaidTotal,
		taskCreditsTotal, taskCreditAmountTotal,
		membershipsActivatedTotal, membershipsExpiredTotal,
	)
}

// Handler exposes the Prometheus endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// SettlementProcessed records one completed settlement run.
func SettlementProcessed(levelsPaid int) {
	settlementsTotal.Inc()
	settlementLevelsPaid.Observe(float64(levelsPaid))
}

// CommissionCredited records one ancestor credit.
func CommissionCredited(level int, amount int64) {
	commissionPaidTotal.WithLabelValues(strconv.Itoa(level)).Add(float64(amount))
}

// TaskEarningCredited records one daily credit.
func TaskEarningCredited(amount int64) {
	taskCreditsTotal.Inc()
	taskCreditAmountTotal.Add(float64(amount))
}

// MembershipActivated records one activation.
func MembershipActivated() { membershipsActivatedTotal.Inc() }

// MembershipExpired records one sweep expiry.
func MembershipExpired() { membershipsExpiredTotal.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses member identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const prefix = "/v1/members/"
	if strings.HasPrefix(path, prefix) {
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 1 {
			return prefix + ":id"
		}
		if !strings.Contains(parts[1], "/") {
			return prefix + ":id/" + parts[1]
		}
	}
	return path
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
