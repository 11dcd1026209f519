package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Executor *resilience.Executor
}

// Client scores query/passage pairs with a text-embeddings-inference
// cross-encoder through its /rerank endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one score per text, aligned with texts. The server answers
// in relevance order, so hits are placed back by index.
func (c *Client) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := rerankRequest{Query: query, Texts: texts, Truncate: true}

	hits, err := resilience.Do(ctx, c.executor, "tei.rerank", func(callCtx context.Context) ([]rerankHit, error) {
		return c.rerank(callCtx, reqBody)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("tei rerank", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(texts) {
			return nil, fmt.Errorf("tei rerank: index %d out of range for %d texts", hit.Index, len(texts))
		}
		scores[hit.Index] = hit.Score
		seen[hit.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("tei rerank: missing score for text %d", i)
		}
	}
	return scores, nil
}

func (c *Client) rerank(ctx context.Context, reqBody rerankRequest) ([]rerankHit, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tei rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewStatusError("tei", "rerank", resp)
	}
	var hits []rerankHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return hits, nil
}
