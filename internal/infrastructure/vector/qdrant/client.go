package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
)

// Payload keys written by the indexing pipeline.
const (
	payloadText     = "text"
	payloadFilename = "filename"
)

type Options struct {
	BaseURL    string
	Collection string
	APIKey     string
	// ScoreThreshold drops hits below it on the server; zero disables it.
	ScoreThreshold float64
	Timeout        time.Duration
	Executor       *resilience.Executor
}

// Client is a read-only search client for one collection.
type Client struct {
	baseURL        string
	collection     string
	apiKey         string
	scoreThreshold float64
	httpClient     *http.Client
	executor       *resilience.Executor
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		collection:     opts.Collection,
		apiKey:         strings.TrimSpace(opts.APIKey),
		scoreThreshold: opts.ScoreThreshold,
		httpClient:     &http.Client{Timeout: timeout},
		executor:       opts.Executor,
	}
}

type searchRequest struct {
	Vector         []float32      `json:"vector"`
	Limit          int            `json:"limit"`
	WithPayload    bool           `json:"with_payload"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	scope domain.Scope,
) ([]domain.Passage, error) {
	reqBody := searchRequest{
		Vector:      queryVector,
		Limit:       limit,
		WithPayload: true,
		Filter:      scopeFilter(scope),
	}
	if c.scoreThreshold > 0 {
		threshold := c.scoreThreshold
		reqBody.ScoreThreshold = &threshold
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	resp, err := resilience.Do(ctx, c.executor, "qdrant.search", func(callCtx context.Context) (searchResponse, error) {
		var out searchResponse
		err := c.doJSON(callCtx, http.MethodPost, url, reqBody, &out, "search")
		return out, err
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("qdrant search", err)
	}

	out := make([]domain.Passage, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, toPassage(fmt.Sprint(r.ID), r.Score, r.Payload))
	}
	return out, nil
}

// CheckCollection verifies the collection exists; used for readiness.
func (c *Client) CheckCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	var out struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out, "collection"); err != nil {
		return resilience.WrapTemporary("qdrant collection", err)
	}
	return nil
}

// scopeFilter restricts hits to the scoped documents or source names. Both
// lists must match when both are set.
func scopeFilter(scope domain.Scope) map[string]any {
	if scope.IsEmpty() {
		return nil
	}
	must := make([]map[string]any, 0, 2)
	if len(scope.DocumentIDs) > 0 {
		must = append(must, map[string]any{
			"key":   domain.MetaDocumentID,
			"match": map[string]any{"any": scope.DocumentIDs},
		})
	}
	if len(scope.Sources) > 0 {
		must = append(must, map[string]any{
			"should": []map[string]any{
				{"key": domain.MetaSource, "match": map[string]any{"any": scope.Sources}},
				{"key": payloadFilename, "match": map[string]any{"any": scope.Sources}},
			},
		})
	}
	return map[string]any{"must": must}
}

func toPassage(id string, score float64, payload map[string]any) domain.Passage {
	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == payloadText {
			continue
		}
		meta[k] = v
	}
	if _, ok := meta[domain.MetaSource]; !ok {
		if filename := getStringPayload(payload, payloadFilename); filename != "" {
			meta[domain.MetaSource] = filename
		}
	}
	return domain.Passage{
		ID:         id,
		Text:       getStringPayload(payload, payloadText),
		Metadata:   meta,
		BaseScore:  score,
		Provenance: domain.ProvenanceDocument,
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("qdrant", operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
