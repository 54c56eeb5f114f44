package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec

	// Session metrics
	SSOOutcomesTotal     *prometheus.CounterVec
	TokenRefreshTotal    *prometheus.CounterVec
	LogoutsTotal         *prometheus.CounterVec
	AuthGateTotal        *prometheus.CounterVec
	ActiveRefreshTimers  prometheus.Gauge
	ActiveSessions       prometheus.Gauge
	IdentityCallDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_storage_operations_total",
				Help: "Total number of key/value storage operations",
			},
			[]string{"operation", "status"},
		),

		SSOOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_sso_callbacks_total",
				Help: "SSO callback processing results by terminal state",
			},
			[]string{"state"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_token_refresh_total",
				Help: "Token refresh attempts by result",
			},
			[]string{"result"},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_logouts_total",
				Help: "Logouts by remote sync result",
			},
			[]string{"sync"},
		),
		AuthGateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_gate_total",
				Help: "Auth gate verdicts",
			},
			[]string{"verdict"},
		),
		ActiveRefreshTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_refresh_timers_active",
				Help: "Number of active token refresh timers",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_sessions_active",
				Help: "Number of live tab sessions held in memory",
			},
		),
		IdentityCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_identity_call_duration_seconds",
				Help:    "Identity host and backend call duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StorageOperationsTotal,
		m.SSOOutcomesTotal,
		m.TokenRefreshTotal,
		m.LogoutsTotal,
		m.AuthGateTotal,
		m.ActiveRefreshTimers,
		m.ActiveSessions,
		m.IdentityCallDuration,
	)

	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
