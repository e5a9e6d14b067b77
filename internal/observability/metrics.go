// Package observability exposes Prometheus metrics for the reconciliation core.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application. All methods are
// nil-safe so wiring them is optional in tests.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	matchOutcomes     *prometheus.CounterVec
	allocationsTotal  *prometheus.CounterVec
	allocatedCents    prometheus.Counter
	reversalsTotal    prometheus.Counter
	resolverRetries   prometheus.Counter
	resolverFallbacks prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightbooks_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brightbooks_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	matchOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightbooks_recon_match_outcomes_total",
		Help: "Matched transactions by terminal status.",
	}, []string{"status"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightbooks_recon_allocations_total",
		Help: "Committed payment allocations by match type.",
	}, []string{"match_type"})
	allocatedCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "brightbooks_recon_allocated_cents_total",
		Help: "Total minor units allocated to invoices.",
	})
	reversals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "brightbooks_recon_reversals_total",
		Help: "Reversed payments.",
	})
	resolverRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "brightbooks_recon_resolver_retries_total",
		Help: "Retried decision-maker calls.",
	})
	resolverFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "brightbooks_recon_resolver_fallbacks_total",
		Help: "Ambiguous matches downgraded to review after decision-maker failure.",
	})
	registry.MustRegister(requests, duration, matchOutcomes, allocations, allocatedCents, reversals, resolverRetries, resolverFallbacks)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		matchOutcomes:     matchOutcomes,
		allocationsTotal:  allocations,
		allocatedCents:    allocatedCents,
		reversalsTotal:    reversals,
		resolverRetries:   resolverRetries,
		resolverFallbacks: resolverFallbacks,
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

// IncMatchOutcome counts one transaction reaching a terminal match status.
func (m *Metrics) IncMatchOutcome(status string) {
	if m == nil {
		return
	}
	m.matchOutcomes.WithLabelValues(status).Inc()
}

// IncAllocation counts a committed payment and its allocated amount.
func (m *Metrics) IncAllocation(matchType string, amountCents int64) {
	if m == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(matchType).Inc()
	m.allocatedCents.Add(float64(amountCents))
}

// IncReversal counts a reversed payment.
func (m *Metrics) IncReversal() {
	if m == nil {
		return
	}
	m.reversalsTotal.Inc()
}

// IncResolverRetry counts a retried decision-maker call.
func (m *Metrics) IncResolverRetry() {
	if m == nil {
		return
	}
	m.resolverRetries.Inc()
}

// IncResolverFallback counts a downgrade to manual review.
func (m *Metrics) IncResolverFallback() {
	if m == nil {
		return
	}
	m.resolverFallbacks.Inc()
}

// Registerer exposes the registry for custom metric registration.
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
