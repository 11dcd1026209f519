package ports

import (
	"context"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// IntentClassifier expands and classifies a query. It never fails: any
// internal error resolves to a default classification.
type IntentClassifier interface {
	Classify(ctx context.Context, query string, history []domain.Turn) (domain.ExpandedQuery, domain.QueryType)
}

// Retriever returns passages ordered by base score, at most k of them.
type Retriever interface {
	Search(ctx context.Context, text string, k int, scope domain.Scope) ([]domain.Passage, error)
}

// PassageReranker reorders and annotates passages without dropping any.
type PassageReranker interface {
	Rerank(ctx context.Context, query string, passages []domain.Passage) []domain.Passage
}

// FallbackSearcher runs the cached, rate-limited web fallback. An error is
// returned only when ctx is done.
type FallbackSearcher interface {
	Search(ctx context.Context, text string) (domain.FallbackResult, error)
}
