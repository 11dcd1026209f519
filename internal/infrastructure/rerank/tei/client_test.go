package tei

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestScoreRealignsHitsByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Query != "khóa chính là gì" || len(req.Texts) != 3 || !req.Truncate {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`[{"index":2,"score":0.91},{"index":0,"score":0.40},{"index":1,"score":0.05}]`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL + "/"})
	scores, err := client.Score(context.Background(), "khóa chính là gì", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	want := []float64{0.40, 0.05, 0.91}
	if len(scores) != len(want) {
		t.Fatalf("expected %d scores, got %v", len(want), scores)
	}
	for i := range want {
		if scores[i] != want[i] {
			t.Fatalf("score %d = %v, want %v", i, scores[i], want[i])
		}
	}
}

func TestScoreRejectsIncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":0,"score":0.4}]`))
	}))
	defer server.Close()

	_, err := New(Options{BaseURL: server.URL}).Score(context.Background(), "q", []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "missing score") {
		t.Fatalf("expected missing score error, got %v", err)
	}
}

func TestScoreSurfacesStatusBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		http.Error(w, "input too long", http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	_, err := New(Options{BaseURL: server.URL, APIKey: "token"}).Score(context.Background(), "q", []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "input too long") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestScoreEmptyInput(t *testing.T) {
	scores, err := New(Options{BaseURL: "http://unused"}).Score(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(scores) != 0 {
		t.Fatalf("expected no scores, got %v", scores)
	}
}
