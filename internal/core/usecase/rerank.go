package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

// BoostWeights are additive increments applied on top of the cross-encoder
// score when the query facet matches a passage content flag. Clause weights
// apply when the query names a SQL clause the passage is flagged for.
type BoostWeights struct {
	Definition      float64
	Syntax          float64
	SyntaxClause    float64
	Example         float64
	ExampleClause   float64
	Comparison      float64
	Troubleshooting float64
}

func DefaultBoostWeights() BoostWeights {
	return BoostWeights{
		Definition:      0.30,
		Syntax:          0.25,
		SyntaxClause:    0.40,
		Example:         0.20,
		ExampleClause:   0.35,
		Comparison:      0.25,
		Troubleshooting: 0.25,
	}
}

func (w BoostWeights) normalize() BoostWeights {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return BoostWeights{
		Definition:      clamp(w.Definition),
		Syntax:          clamp(w.Syntax),
		SyntaxClause:    clamp(w.SyntaxClause),
		Example:         clamp(w.Example),
		ExampleClause:   clamp(w.ExampleClause),
		Comparison:      clamp(w.Comparison),
		Troubleshooting: clamp(w.Troubleshooting),
	}
}

type RerankerOptions struct {
	BatchSize int
	Workers   int
	Weights   *BoostWeights
}

// Reranker scores passages with a cross-encoder and applies facet boosts.
// It never drops or adds passages.
type Reranker struct {
	encoder   ports.CrossEncoder
	runner    ports.TaskRunner
	batchSize int
	workers   int
	weights   BoostWeights
	logger    *slog.Logger
}

func NewReranker(encoder ports.CrossEncoder, runner ports.TaskRunner, opts RerankerOptions, logger *slog.Logger) *Reranker {
	if runner == nil {
		runner = inlineRunner{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	weights := DefaultBoostWeights()
	if opts.Weights != nil {
		weights = opts.Weights.normalize()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		encoder:   encoder,
		runner:    runner,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		weights:   weights,
		logger:    logger,
	}
}

func (r *Reranker) Rerank(ctx context.Context, query string, passages []domain.Passage) []domain.Passage {
	if len(passages) == 0 {
		return passages
	}

	out := make([]domain.Passage, len(passages))
	copy(out, passages)

	scores, err := r.scoreAll(ctx, query, out)
	if err != nil {
		r.logger.Warn("rerank_cross_encoder_failed", "passages", len(out), "error", err)
		scores = make([]float64, len(out))
		for i := range out {
			scores[i] = out[i].BaseScore
		}
	}

	facet := ClassifyFacet(query)
	clauses := detectSQLClauses(query)
	for i := range out {
		out[i].RerankScore = scores[i]
		out[i].BoostedScore = scores[i] + r.boost(facet, clauses, out[i].Metadata)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BoostedScore > out[j].BoostedScore
	})
	return out
}

// scoreAll fans batches out over at most r.workers concurrent calls and
// writes each batch back at its original offset.
func (r *Reranker) scoreAll(ctx context.Context, query string, passages []domain.Passage) ([]float64, error) {
	if r.encoder == nil {
		return nil, fmt.Errorf("cross encoder is not configured")
	}

	scores := make([]float64, len(passages))
	sem := semaphore.NewWeighted(int64(r.workers))
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(passages); start += r.batchSize {
		end := start + r.batchSize
		if end > len(passages) {
			end = len(passages)
		}
		texts := make([]string, 0, end-start)
		for _, p := range passages[start:end] {
			texts = append(texts, p.Text)
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		offset := start
		g.Go(func() error {
			defer sem.Release(1)
			return r.runner.Run(gctx, func(taskCtx context.Context) error {
				batch, err := r.encoder.Score(taskCtx, query, texts)
				if err != nil {
					return fmt.Errorf("score batch at %d: %w", offset, err)
				}
				if len(batch) != len(texts) {
					return fmt.Errorf("score batch at %d: got %d scores for %d texts", offset, len(batch), len(texts))
				}
				copy(scores[offset:], batch)
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *Reranker) boost(facet domain.Facet, queryClauses []string, meta map[string]any) float64 {
	if len(meta) == 0 {
		return 0
	}
	w := r.weights
	total := 0.0

	switch facet {
	case domain.FacetDefinition:
		if metadataBool(meta, domain.MetaHasDefinition) {
			total += w.Definition
		}
	case domain.FacetSyntax:
		if metadataBool(meta, domain.MetaHasSQLSyntax) {
			total += w.Syntax
			if clauseOverlap(queryClauses, metadataStrings(meta, domain.MetaSQLClauses)) {
				total += w.SyntaxClause
			}
		}
	case domain.FacetExample:
		if metadataBool(meta, domain.MetaHasExample) {
			total += w.Example
			if clauseOverlap(queryClauses, metadataStrings(meta, domain.MetaSQLClauses)) {
				total += w.ExampleClause
			}
		}
	case domain.FacetComparison:
		if metadataBool(meta, domain.MetaHasComparison) {
			total += w.Comparison
		}
	case domain.FacetTroubleshooting:
		if metadataBool(meta, domain.MetaHasTroubleshooting) {
			total += w.Troubleshooting
		}
	}
	return total
}

func clauseOverlap(queryClauses, passageClauses []string) bool {
	if len(queryClauses) == 0 || len(passageClauses) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(passageClauses))
	for _, c := range passageClauses {
		set[strings.ToLower(strings.Join(strings.Fields(c), " "))] = struct{}{}
	}
	for _, c := range queryClauses {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}
