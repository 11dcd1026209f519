package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

const defaultRetrievalTopK = 20

// RetrievalEngine embeds the search text and queries the vector index.
type RetrievalEngine struct {
	embedder ports.Embedder
	vectorDB ports.VectorStore
	runner   ports.TaskRunner
}

func NewRetrievalEngine(embedder ports.Embedder, vectorDB ports.VectorStore, runner ports.TaskRunner) *RetrievalEngine {
	if runner == nil {
		runner = inlineRunner{}
	}
	return &RetrievalEngine{
		embedder: embedder,
		vectorDB: vectorDB,
		runner:   runner,
	}
}

func (e *RetrievalEngine) Search(ctx context.Context, text string, k int, scope domain.Scope) ([]domain.Passage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieval search", fmt.Errorf("empty search text"))
	}
	if k <= 0 {
		k = defaultRetrievalTopK
	}

	var passages []domain.Passage
	err := e.runner.Run(ctx, func(taskCtx context.Context) error {
		queryVector, err := e.embedder.EmbedQuery(taskCtx, text)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		found, err := e.vectorDB.Search(taskCtx, queryVector, k, scope)
		if err != nil {
			return fmt.Errorf("search vector db: %w", err)
		}
		passages = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range passages {
		if passages[i].Provenance == "" {
			passages[i].Provenance = domain.ProvenanceDocument
		}
	}
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].BaseScore > passages[j].BaseScore
	})
	return trimPassages(passages, k), nil
}

func trimPassages(passages []domain.Passage, limit int) []domain.Passage {
	if limit <= 0 || len(passages) <= limit {
		return passages
	}
	return passages[:limit]
}

// inlineRunner runs tasks on the calling goroutine.
type inlineRunner struct{}

func (inlineRunner) Run(ctx context.Context, task func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return task(ctx)
}
