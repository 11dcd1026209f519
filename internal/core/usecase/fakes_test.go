package usecase

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type embedderFake struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (f *embedderFake) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type vectorStoreFake struct {
	mu       sync.Mutex
	passages []domain.Passage
	err      error
	limit    int
	scope    domain.Scope
	calls    int
}

func (f *vectorStoreFake) Search(_ context.Context, _ []float32, limit int, scope domain.Scope) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	f.scope = scope
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Passage, len(f.passages))
	copy(out, f.passages)
	return out, nil
}

type retrieverFake struct {
	mu       sync.Mutex
	passages []domain.Passage
	err      error
	calls    int
	lastText string
	scope    domain.Scope
}

func (f *retrieverFake) Search(_ context.Context, text string, k int, scope domain.Scope) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	f.scope = scope
	if f.err != nil {
		return nil, f.err
	}
	return trimPassages(append([]domain.Passage(nil), f.passages...), k), nil
}

func (f *retrieverFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fallbackFake struct {
	mu     sync.Mutex
	result domain.FallbackResult
	err    error
	calls  int
}

func (f *fallbackFake) Search(context.Context, string) (domain.FallbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fallbackFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type crossEncoderFake struct {
	mu      sync.Mutex
	scoreFn func(text string) float64
	err     error
	batches []int
}

func (f *crossEncoderFake) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(texts))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(texts))
	for i, text := range texts {
		if f.scoreFn != nil {
			out[i] = f.scoreFn(text)
		}
	}
	return out, nil
}

type generatorFake struct {
	mu       sync.Mutex
	invokeFn func(prompt string) (string, error)
	tokens   []string
	// streamErr is yielded after failAfter tokens when set.
	streamErr    error
	failAfter    int
	quotaStreams int
	quotaInvokes int
	// blockUntilDone holds the stream open after the tokens until ctx ends.
	blockUntilDone bool

	invokeCalls int
	streamCalls int
	prompts     []string
}

func (f *generatorFake) Invoke(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.invokeCalls++
	call := f.invokeCalls
	f.mu.Unlock()
	if call <= f.quotaInvokes {
		return "", domain.WrapError(domain.ErrQuotaExceeded, "generate", fmt.Errorf("429"))
	}
	if f.invokeFn == nil {
		return "", fmt.Errorf("no classifier script")
	}
	return f.invokeFn(prompt)
}

func (f *generatorFake) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	f.mu.Lock()
	f.streamCalls++
	call := f.streamCalls
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		if call <= f.quotaStreams {
			yield("", domain.WrapError(domain.ErrQuotaExceeded, "generate stream", fmt.Errorf("429")))
			return
		}
		for i, tok := range f.tokens {
			if f.streamErr != nil && i == f.failAfter {
				yield("", f.streamErr)
				return
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
		if f.blockUntilDone {
			<-ctx.Done()
			yield("", ctx.Err())
			return
		}
		if f.streamErr != nil && f.failAfter >= len(f.tokens) {
			yield("", f.streamErr)
		}
	}
}

func (f *generatorFake) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type rotatingGeneratorFake struct {
	*generatorFake
	keys      int
	rotations int
}

func (f *rotatingGeneratorFake) CredentialCount() int { return f.keys }
func (f *rotatingGeneratorFake) RotateCredential()    { f.rotations++ }

type webProviderFake struct {
	mu      sync.Mutex
	results []domain.WebResult
	err     error
	calls   int
	delay   time.Duration
	queries []string
}

func (f *webProviderFake) Search(ctx context.Context, query string) ([]domain.WebResult, error) {
	f.mu.Lock()
	f.calls++
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *webProviderFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mapCacheFake struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	sets    int
}

func newMapCacheFake() *mapCacheFake {
	return &mapCacheFake{entries: make(map[string]domain.CacheEntry)}
}

func (c *mapCacheFake) Get(_ context.Context, key string) (domain.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *mapCacheFake) Set(_ context.Context, key string, entry domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = entry
}

type publisherFake struct {
	mu     sync.Mutex
	audits []domain.AnswerAudit
	err    error
}

func (p *publisherFake) all() []domain.AnswerAudit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AnswerAudit(nil), p.audits...)
}

func (p *publisherFake) PublishAnswerCompleted(_ context.Context, audit domain.AnswerAudit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audits = append(p.audits, audit)
	return p.err
}

// scriptedClassifierLLM answers classifier prompts by keyword so tests can
// drive the real LLMIntentClassifier.
func scriptedClassifierLLM(prompt string) (string, error) {
	question := prompt
	if idx := strings.LastIndex(prompt, "Question:\n"); idx >= 0 {
		question = prompt[idx+len("Question:\n"):]
	}
	lower := strings.ToLower(question)
	queryType := domain.QueryTypeDocumentQuestion
	switch {
	case strings.Contains(lower, "thời tiết"):
		queryType = domain.QueryTypeOffTopic
	case strings.Contains(lower, "viết câu lệnh"):
		queryType = domain.QueryTypeSQLCodeTask
	case strings.Contains(lower, "2024"), strings.Contains(lower, "hôm nay có gì mới"):
		queryType = domain.QueryTypeRealtimeQuestion
	}
	return fmt.Sprintf("Here is the result:\n{\"expanded_query\": %q, \"query_type\": %q, \"corrections_made\": []}\nDone.",
		strings.TrimSpace(question), queryType), nil
}

func collectEvents(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for stream to close, got %d events", len(events))
		}
	}
}

type protocolSummary struct {
	start     domain.StartPayload
	citations []domain.Citation
	contents  []string
	end       domain.EndPayload
}

func (s protocolSummary) text() string {
	return strings.Join(s.contents, "")
}

// requireProtocol checks Start, Sources, Content*, End ordering.
func requireProtocol(t *testing.T, events []domain.StreamEvent) protocolSummary {
	t.Helper()
	if len(events) < 3 {
		t.Fatalf("expected at least start/sources/end, got %d events", len(events))
	}
	if events[0].Type != domain.EventStart || events[0].Start == nil {
		t.Fatalf("first event must be start, got %s", events[0].Type)
	}
	if events[1].Type != domain.EventSources || events[1].Sources == nil {
		t.Fatalf("second event must be sources, got %s", events[1].Type)
	}
	last := events[len(events)-1]
	if last.Type != domain.EventEnd || last.End == nil {
		t.Fatalf("last event must be end, got %s", last.Type)
	}

	summary := protocolSummary{
		start:     *events[0].Start,
		citations: events[1].Sources.Citations,
		end:       *last.End,
	}
	for _, ev := range events[2 : len(events)-1] {
		if ev.Type != domain.EventContent || ev.Content == nil {
			t.Fatalf("expected only content events between sources and end, got %s", ev.Type)
		}
		summary.contents = append(summary.contents, ev.Content.Delta)
	}
	return summary
}
