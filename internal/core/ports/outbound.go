package ports

import (
	"context"
	"iter"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore performs semantic search over indexed passages. It never
// mutates the index.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, limit int, scope domain.Scope) ([]domain.Passage, error)
}

// CrossEncoder scores (query, text) pairs. Output is aligned with texts.
type CrossEncoder interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Generator turns an assembled prompt into text.
type Generator interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	// Stream yields text deltas as they arrive. The sequence is finite and
	// cannot be restarted.
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// CredentialRotator is implemented by generators holding several API keys.
type CredentialRotator interface {
	CredentialCount() int
	RotateCredential()
}

// WebSearchProvider runs a live web search.
type WebSearchProvider interface {
	Search(ctx context.Context, query string) ([]domain.WebResult, error)
}

// ConversationStore reads and extends the turns of a conversation. History
// is returned oldest first.
type ConversationStore interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	AppendTurns(ctx context.Context, conversationID string, turns ...domain.Turn) error
}

// FallbackCache stores web-search results by normalized query hash.
type FallbackCache interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool)
	Set(ctx context.Context, key string, entry domain.CacheEntry)
}

// TaskRunner executes blocking inference work on a bounded pool.
type TaskRunner interface {
	Run(ctx context.Context, task func(context.Context) error) error
}

// AuditPublisher emits completed-answer audits.
type AuditPublisher interface {
	PublishAnswerCompleted(ctx context.Context, audit domain.AnswerAudit) error
}

// AuditSubscriber consumes completed-answer audits until ctx is done.
type AuditSubscriber interface {
	SubscribeAnswerCompleted(ctx context.Context, handler func(context.Context, domain.AnswerAudit) error) error
}

// AuditRepository persists audits.
type AuditRepository interface {
	SaveAudit(ctx context.Context, audit domain.AnswerAudit) error
}

// PipelineMetrics receives pipeline observations. Implementations must be
// safe for concurrent use.
type PipelineMetrics interface {
	ObserveFallback(cacheHit, found bool)
	ObserveRateLimitWait(seconds float64)
	ObserveAnswer(queryType domain.QueryType, citations int, failed bool, seconds float64)
}
