package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

const namespace = "docqa"

// HTTPServerMetrics covers the API process: HTTP traffic, the answer
// pipeline and remote-call resilience. Safe for concurrent use.
type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	answersTotal      *prometheus.CounterVec
	answerDuration    *prometheus.HistogramVec
	answerCitations   *prometheus.HistogramVec
	fallbackTotal     *prometheus.CounterVec
	rateLimitWait     prometheus.Histogram
	retriesTotal      *prometheus.CounterVec
	breakerTransition *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control, by reason.",
		},
		[]string{"service", "reason"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "completed_total",
			Help:      "Completed answer streams by query type and outcome.",
		},
		[]string{"service", "query_type", "status"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Time from request to End event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
		[]string{"service", "query_type"},
	)
	answerCitations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "citations",
			Help:      "Citations emitted per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service", "query_type"},
	)
	fallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "searches_total",
			Help:      "Fallback web searches by cache outcome and result.",
		},
		[]string{"service", "cache", "result"},
	)
	rateLimitWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "fallback",
			Name:        "rate_limit_wait_seconds",
			Help:        "Time spent waiting for a web-search slot.",
			Buckets:     []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60},
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
	breakerTransition := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation and target state.",
		},
		[]string{"service", "operation", "state"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		answersTotal,
		answerDuration,
		answerCitations,
		fallbackTotal,
		rateLimitWait,
		retriesTotal,
		breakerTransition,
	)

	return &HTTPServerMetrics{
		service:           service,
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		rejectedTotal:     rejectedTotal,
		answersTotal:      answersTotal,
		answerDuration:    answerDuration,
		answerCitations:   answerCitations,
		fallbackTotal:     fallbackTotal,
		rateLimitWait:     rateLimitWait,
		retriesTotal:      retriesTotal,
		breakerTransition: breakerTransition,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		// The mux records the matched pattern on r; raw paths are not used as
		// labels.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(m.service, reason).Inc()
}

func (m *HTTPServerMetrics) ObserveAnswer(queryType domain.QueryType, citations int, failed bool, seconds float64) {
	qt := string(queryType)
	if qt == "" {
		qt = "unknown"
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.answersTotal.WithLabelValues(m.service, qt, status).Inc()
	m.answerDuration.WithLabelValues(m.service, qt).Observe(seconds)
	m.answerCitations.WithLabelValues(m.service, qt).Observe(float64(citations))
}

func (m *HTTPServerMetrics) ObserveFallback(cacheHit, found bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	result := "not_found"
	if found {
		result = "found"
	}
	m.fallbackTotal.WithLabelValues(m.service, cache, result).Inc()
}

func (m *HTTPServerMetrics) ObserveRateLimitWait(seconds float64) {
	m.rateLimitWait.Observe(seconds)
}

func (m *HTTPServerMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *HTTPServerMetrics) ObserveBreakerState(operation string, state string) {
	m.breakerTransition.WithLabelValues(m.service, operation, state).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
