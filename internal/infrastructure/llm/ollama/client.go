package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL    string
	GenModel   string
	EmbedModel string
	// APIKeys are sent as Bearer tokens; an empty list sends none.
	APIKeys  []string
	Timeout  time.Duration
	Executor *resilience.Executor
}

// Client is shared by the embedder and every generator so that credential
// rotation is visible to all of them.
type Client struct {
	baseURL      string
	genModel     string
	embedModel   string
	httpClient   *http.Client
	streamClient *http.Client
	executor     *resilience.Executor

	keyMu  sync.RWMutex
	keys   []string
	active int
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	keys := make([]string, 0, len(opts.APIKeys))
	for _, key := range opts.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		genModel:   opts.GenModel,
		embedModel: opts.EmbedModel,
		httpClient: &http.Client{Timeout: timeout},
		// Streams are bounded by the request context instead of a client
		// timeout, which would cut long answers.
		streamClient: &http.Client{},
		executor:     opts.Executor,
		keys:         keys,
	}
}

func (c *Client) CredentialCount() int {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return len(c.keys)
}

func (c *Client) RotateCredential() {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if len(c.keys) > 1 {
		c.active = (c.active + 1) % len(c.keys)
	}
}

func (c *Client) activeKey() string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	if len(c.keys) == 0 {
		return ""
	}
	return c.keys[c.active]
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := embedRequest{
		Model: e.client.embedModel,
		Input: texts,
	}
	response, err := resilience.Do(ctx, e.client.executor, "ollama.embed", func(callCtx context.Context) (embedResponse, error) {
		var out embedResponse
		err := e.client.postJSON(callCtx, "/api/embed", request, &out, "embed")
		return out, err
	}, classifyOllamaError)
	if err != nil {
		return nil, resilience.WrapTemporary("ollama embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type GeneratorOptions struct {
	// JSONFormat asks the model for a JSON object; used for classification.
	JSONFormat  bool
	Temperature *float64
}

// Generator implements ports.Generator and ports.CredentialRotator.
type Generator struct {
	client *Client
	opts   GeneratorOptions
}

func NewGenerator(client *Client, opts GeneratorOptions) *Generator {
	return &Generator{client: client, opts: opts}
}

func (g *Generator) CredentialCount() int { return g.client.CredentialCount() }
func (g *Generator) RotateCredential()    { g.client.RotateCredential() }

func (g *Generator) Invoke(ctx context.Context, prompt string) (string, error) {
	request := g.request(prompt, false)
	response, err := resilience.Do(ctx, g.client.executor, "ollama.generate", func(callCtx context.Context) (generateChunk, error) {
		var out generateChunk
		err := g.client.postJSON(callCtx, "/api/generate", request, &out, "generate")
		return out, err
	}, classifyOllamaError)
	if err != nil {
		return "", resilience.WrapTemporary("ollama generate", err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", response.Error)
	}
	return strings.TrimSpace(response.Response), nil
}

func (g *Generator) request(prompt string, stream bool) generateRequest {
	req := generateRequest{
		Model:  g.client.genModel,
		Prompt: prompt,
		Stream: stream,
	}
	if g.opts.JSONFormat {
		req.Format = "json"
	}
	if g.opts.Temperature != nil {
		req.Options = map[string]any{"temperature": *g.opts.Temperature}
	}
	return req
}
