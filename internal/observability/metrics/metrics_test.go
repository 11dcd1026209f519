package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func requireSeries(t *testing.T, body string, series ...string) {
	t.Helper()
	for _, s := range series {
		if !strings.Contains(body, s) {
			t.Fatalf("expected %q in scrape output:\n%s", s, body)
		}
	}
}

func TestHTTPMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/answer/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := m.Middleware(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/answer/stream?q=x", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/path/123", nil))

	requireSeries(t, scrape(t, m.Handler()),
		`docqa_http_requests_total{method="GET",path="GET /v1/answer/stream",service="api",status="202"} 1`,
		`docqa_http_requests_total{method="GET",path="unmatched",service="api",status="404"} 1`,
	)
}

func TestPipelineObservationsAreExported(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.ObserveAnswer(domain.QueryTypeDocumentQuestion, 3, false, 1.5)
	m.ObserveAnswer("", 0, true, 0.1)
	m.ObserveFallback(true, true)
	m.ObserveFallback(false, false)
	m.ObserveRateLimitWait(0.2)
	m.ObserveRetry("ollama.generate")
	m.ObserveBreakerState("qdrant.search", "open")
	m.RecordRejected("rate_limited")

	requireSeries(t, scrape(t, m.Handler()),
		`docqa_answer_completed_total{query_type="document_question",service="api",status="success"} 1`,
		`docqa_answer_completed_total{query_type="unknown",service="api",status="error"} 1`,
		`docqa_fallback_searches_total{cache="hit",result="found",service="api"} 1`,
		`docqa_fallback_searches_total{cache="miss",result="not_found",service="api"} 1`,
		`docqa_fallback_rate_limit_wait_seconds_count{service="api"} 1`,
		`docqa_resilience_retries_total{operation="ollama.generate",service="api"} 1`,
		`docqa_resilience_breaker_transitions_total{operation="qdrant.search",service="api",state="open"} 1`,
		`docqa_http_rejected_total{reason="rate_limited",service="api"} 1`,
	)
}

func TestWorkerMetricsTrackAudits(t *testing.T) {
	m := NewWorkerMetrics("worker")

	done := m.StartAudit(domain.AnswerAudit{CompletedAt: time.Now().Add(-time.Second)})
	requireSeries(t, scrape(t, m.Handler()), `docqa_worker_audit_in_flight{service="worker"} 1`)
	done(errors.New("db down"))
	m.ObserveAuditRecorded(domain.QueryTypeOffTopic, nil)

	requireSeries(t, scrape(t, m.Handler()),
		`docqa_worker_audit_in_flight{service="worker"} 0`,
		`docqa_worker_audit_delivery_lag_seconds_count{service="worker"} 1`,
		`docqa_worker_audit_handle_duration_seconds_count{service="worker",status="error"} 1`,
		`docqa_worker_audits_total{query_type="off_topic",service="worker",status="success"} 1`,
	)
}
