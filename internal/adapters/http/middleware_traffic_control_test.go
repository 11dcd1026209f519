package httpadapter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type rejectionsFake struct {
	mu      sync.Mutex
	reasons []string
}

func (f *rejectionsFake) RecordRejected(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestRouter(&answerServiceFake{deltas: []string{"ok"}}, Options{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q"}`))
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q"}`))
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	res3 := httptest.NewRecorder()
	handler.ServeHTTP(res3, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res3.Code != http.StatusOK {
		t.Fatalf("health check must bypass the rate limit, got %d", res3.Code)
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)
	rejections := &rejectionsFake{}

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond, rejections)

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}

	rejections.mu.Lock()
	defer rejections.mu.Unlock()
	if len(rejections.reasons) != 1 || rejections.reasons[0] != "overloaded" {
		t.Fatalf("expected one overloaded rejection, got %v", rejections.reasons)
	}
}

func TestBackpressureMiddlewareAdmitsQueuedRequest(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, time.Second, nil)

	codes := make(chan int, 2)
	for range 2 {
		go func() {
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/answer", nil))
			codes <- res.Code
		}()
	}

	<-started
	close(release)
	for range 2 {
		select {
		case code := <-codes:
			if code != http.StatusNoContent {
				t.Fatalf("queued request expected 204, got %d", code)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for queued request")
		}
	}
}
