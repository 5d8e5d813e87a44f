package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	reconcileRuns    *prometheus.CounterVec
	reconcileRows    *prometheus.CounterVec
	sweepTransitions *prometheus.CounterVec
}

// NewMetrics initializes the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlas_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_reconcile_runs_total",
		Help: "Reconciliation passes by engine and outcome.",
	}, []string{"engine", "outcome"})
	reconcileRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_reconcile_rows_total",
		Help: "Rows created or updated by reconciliation passes.",
	}, []string{"engine", "op"})
	sweepTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_aging_transitions_total",
		Help: "Status transitions applied by the aging sweep.",
	}, []string{"engine"})
	registry.MustRegister(requests, duration, reconcileRuns, reconcileRows, sweepTransitions)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		reconcileRuns:    reconcileRuns,
		reconcileRows:    reconcileRows,
		sweepTransitions: sweepTransitions,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveReconcile records one reconciliation pass. A pass that finished
// with per-subject failures downgrades an "ok" outcome to "partial".
func (m *Metrics) ObserveReconcile(engine, outcome string, created, updated, failed int64) {
	if m == nil {
		return
	}
	if outcome == "ok" && failed > 0 {
		outcome = "partial"
	}
	m.reconcileRuns.WithLabelValues(engine, outcome).Inc()
	m.reconcileRows.WithLabelValues(engine, "created").Add(float64(created))
	m.reconcileRows.WithLabelValues(engine, "updated").Add(float64(updated))
}

// ObserveSweep records status transitions applied by an aging sweep.
func (m *Metrics) ObserveSweep(engine string, transitioned int64) {
	if m == nil {
		return
	}
	m.sweepTransitions.WithLabelValues(engine).Add(float64(transitioned))
}

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
