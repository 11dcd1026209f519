package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	auditTotal      *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	handleInFlight  prometheus.Gauge
	deliveryLag     prometheus.Histogram
	retriesTotal    *prometheus.CounterVec
	breakerTransits *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	auditTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "audits_total",
			Help:      "Answer audits handled by query type and status.",
		},
		[]string{"service", "query_type", "status"},
	)
	handleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "audit_handle_duration_seconds",
			Help:      "Audit handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	handleInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "audit_in_flight",
			Help:        "Number of audits being persisted.",
			ConstLabels: constLabels,
		},
	)
	deliveryLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "audit_delivery_lag_seconds",
			Help:        "Delay between answer completion and audit handling.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: constLabels,
		},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retries of remote calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerTransits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation and target state.",
		},
		[]string{"service", "operation", "state"},
	)

	registry.MustRegister(auditTotal, handleDuration, handleInFlight, deliveryLag, retriesTotal, breakerTransits)

	return &WorkerMetrics{
		service:         service,
		registry:        registry,
		auditTotal:      auditTotal,
		handleDuration:  handleDuration,
		handleInFlight:  handleInFlight,
		deliveryLag:     deliveryLag,
		retriesTotal:    retriesTotal,
		breakerTransits: breakerTransits,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartAudit marks an audit in flight and returns a func that records the
// outcome.
func (m *WorkerMetrics) StartAudit(audit domain.AnswerAudit) func(err error) {
	m.handleInFlight.Inc()
	start := time.Now()
	if !audit.CompletedAt.IsZero() {
		if lag := start.Sub(audit.CompletedAt); lag >= 0 {
			m.deliveryLag.Observe(lag.Seconds())
		}
	}
	return func(err error) {
		m.handleInFlight.Dec()
		m.handleDuration.WithLabelValues(m.service, statusOf(err)).Observe(time.Since(start).Seconds())
	}
}

func (m *WorkerMetrics) ObserveAuditRecorded(queryType domain.QueryType, err error) {
	qt := string(queryType)
	if qt == "" {
		qt = "unknown"
	}
	m.auditTotal.WithLabelValues(m.service, qt, statusOf(err)).Inc()
}

func (m *WorkerMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *WorkerMetrics) ObserveBreakerState(operation string, state string) {
	m.breakerTransits.WithLabelValues(m.service, operation, state).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
