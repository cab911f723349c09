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

	reconciliations   *prometheus.CounterVec
	chequeTransitions *prometheus.CounterVec
	staleCheques      prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_reconciliations_total",
		Help: "Payment/expense reconciliation flows by entity and result.",
	}, []string{"entity", "result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_cheque_transitions_total",
		Help: "Cheque status transitions by target status.",
	}, []string{"to"})
	stale := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_stale_pending_cheques",
		Help: "Pending cheques older than the configured cutoff, from the last scan.",
	})
	registry.MustRegister(requests, duration, reconciliations, transitions, stale)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		reconciliations:   reconciliations,
		chequeTransitions: transitions,
		staleCheques:      stale,
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

// ObserveReconciliation counts a reconciliation flow outcome.
func (m *Metrics) ObserveReconciliation(entity, result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(entity, result).Inc()
}

// ObserveChequeTransition counts a cheque status transition.
func (m *Metrics) ObserveChequeTransition(to string) {
	if m == nil {
		return
	}
	m.chequeTransitions.WithLabelValues(to).Inc()
}

// SetStalePendingCheques records the latest stale-cheque scan result.
func (m *Metrics) SetStalePendingCheques(n int) {
	if m == nil {
		return
	}
	m.staleCheques.Set(float64(n))
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
