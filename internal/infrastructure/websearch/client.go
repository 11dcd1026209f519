package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
)

const (
	ProviderTavily     = "tavily"
	ProviderDuckDuckGo = "duckduckgo"

	defaultTavilyEndpoint     = "https://api.tavily.com/search"
	defaultDuckDuckGoEndpoint = "https://api.duckduckgo.com/"
)

type Options struct {
	Provider   string
	Endpoint   string
	APIKey     string
	MaxResults int
	Timeout    time.Duration
	Executor   *resilience.Executor
}

// Client implements ports.WebSearchProvider for Tavily and the DuckDuckGo
// instant answer API.
type Client struct {
	provider   string
	endpoint   string
	apiKey     string
	maxResults int
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = ProviderTavily
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	switch provider {
	case ProviderTavily:
		if endpoint == "" {
			endpoint = defaultTavilyEndpoint
		}
		if strings.TrimSpace(opts.APIKey) == "" {
			return nil, fmt.Errorf("websearch: tavily requires an api key")
		}
	case ProviderDuckDuckGo:
		if endpoint == "" {
			endpoint = defaultDuckDuckGoEndpoint
		}
	default:
		return nil, fmt.Errorf("websearch: unknown provider %q", opts.Provider)
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		provider:   provider,
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(opts.APIKey),
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]domain.WebResult, error) {
	results, err := resilience.Do(ctx, c.executor, "websearch."+c.provider, func(callCtx context.Context) ([]domain.WebResult, error) {
		if c.provider == ProviderDuckDuckGo {
			return c.searchDuckDuckGo(callCtx, query)
		}
		return c.searchTavily(callCtx, query)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	out := make([]domain.WebResult, 0, len(results))
	for _, r := range results {
		r.Title = strings.TrimSpace(r.Title)
		r.Content = ExtractText(r.Content)
		if r.Content == "" && r.Title == "" {
			continue
		}
		out = append(out, r)
		if len(out) == c.maxResults {
			break
		}
	}
	return out, nil
}

type tavilyRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) searchTavily(ctx context.Context, query string) ([]domain.WebResult, error) {
	body, err := json.Marshal(tavilyRequest{Query: query, SearchDepth: "basic", MaxResults: c.maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp tavilyResponse
	if err := c.do(req, "search", &resp); err != nil {
		return nil, err
	}
	out := make([]domain.WebResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, domain.WebResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return out, nil
}

type duckDuckGoResponse struct {
	AbstractText   string `json:"AbstractText"`
	AbstractSource string `json:"AbstractSource"`
	AbstractURL    string `json:"AbstractURL"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
		Result   string `json:"Result"`
	} `json:"RelatedTopics"`
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string) ([]domain.WebResult, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create duckduckgo request: %w", err)
	}

	var resp duckDuckGoResponse
	if err := c.do(req, "search", &resp); err != nil {
		return nil, err
	}

	out := make([]domain.WebResult, 0, c.maxResults)
	if resp.AbstractText != "" {
		out = append(out, domain.WebResult{Title: resp.AbstractSource, URL: resp.AbstractURL, Content: resp.AbstractText})
	}
	for _, topic := range resp.RelatedTopics {
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		title := topic.Text
		if cut, _, ok := strings.Cut(title, " - "); ok {
			title = cut
		}
		content := topic.Text
		if topic.Result != "" {
			content = topic.Result
		}
		out = append(out, domain.WebResult{Title: title, URL: topic.FirstURL, Content: content})
	}
	return out, nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", c.provider, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.NewStatusError(c.provider, operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}
