package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters for the auth core. Decisions are counted at the orchestrator
// boundary so retries by callers do not double-count component internals.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vakt_logins_total",
			Help: "Completed login attempts by provider and outcome.",
		},
		[]string{"provider", "status"},
	)

	tokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vakt_token_verifications_total",
			Help: "Access and refresh token verifications by outcome.",
		},
		[]string{"kind", "status"},
	)

	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vakt_permission_checks_total",
			Help: "Permission checks by decision.",
		},
		[]string{"decision"},
	)

	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vakt_audit_events_total",
			Help: "Audit events recorded by event type.",
		},
		[]string{"type"},
	)

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
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		loginsTotal,
		tokenVerificationsTotal,
		permissionChecksTotal,
		auditEventsTotal,
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a completed login attempt.
func ObserveLogin(provider, status string) {
	loginsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveTokenVerification counts a token verification. Kind is "access" or "refresh".
func ObserveTokenVerification(kind, status string) {
	tokenVerificationsTotal.WithLabelValues(kind, status).Inc()
}

// ObservePermissionCheck counts a permission decision ("granted" or "denied").
func ObservePermissionCheck(decision string) {
	permissionChecksTotal.WithLabelValues(decision).Inc()
}

// ObserveAuditEvent counts a recorded audit event.
func ObserveAuditEvent(eventType string) {
	auditEventsTotal.WithLabelValues(eventType).Inc()
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight measurements.
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

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
