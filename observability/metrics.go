package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metrics bundles the service's prometheus collectors on a private registry.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Durations       *prometheus.HistogramVec
	Claims          *prometheus.CounterVec
	QuotaRejections prometheus.Counter
	MintTransitions *prometheus.CounterVec

	registry *prometheus.Registry
	tracer   trace.Tracer
}

// NewMetrics registers all collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reserve"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests processed by the reservation service.",
		}, []string{"route", "method", "status"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Allocation claims by stage and outcome.",
		}, []string{"stage", "outcome"}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Reservation attempts rejected by the per-wallet quota.",
		}),
		MintTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mint_transitions_total",
			Help:      "Mint lifecycle transitions by resulting state.",
		}, []string{"state"}),
		registry: registry,
		tracer:   otel.Tracer("nftreserve"),
	}
	registry.MustRegister(m.Requests, m.Durations, m.Claims, m.QuotaRejections, m.MintTransitions)
	return m
}

// MetricsHandler serves the registry in prometheus exposition format.
func (m *Metrics) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counters, latency, and a span per route.
func (m *Metrics) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := m.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
			m.Durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
