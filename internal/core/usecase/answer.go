package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

type OrchestratorOptions struct {
	TopK         int
	RerankTopN   int
	ContextTopM  int
	HistoryTurns int
	// FallbackMinScore > 0 also falls back when the best retrieval score is
	// below it; the web passage is then merged into the working set.
	FallbackMinScore float64
	EventBuffer      int
	AuditTimeout     time.Duration
}

func (o OrchestratorOptions) normalize() OrchestratorOptions {
	if o.TopK <= 0 {
		o.TopK = defaultRetrievalTopK
	}
	if o.RerankTopN <= 0 {
		o.RerankTopN = 10
	}
	if o.RerankTopN > o.TopK {
		o.RerankTopN = o.TopK
	}
	if o.ContextTopM <= 0 {
		o.ContextTopM = 5
	}
	if o.ContextTopM > o.RerankTopN {
		o.ContextTopM = o.RerankTopN
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = 6
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 16
	}
	if o.AuditTimeout <= 0 {
		o.AuditTimeout = 3 * time.Second
	}
	return o
}

// Orchestrator sequences classification, retrieval, fallback, reranking and
// generation for one request and emits the typed event stream.
type Orchestrator struct {
	classifier ports.IntentClassifier
	retriever  ports.Retriever
	reranker   ports.PassageReranker
	fallback   ports.FallbackSearcher
	generator  *quotaAwareGenerator
	publisher  ports.AuditPublisher
	metrics    ports.PipelineMetrics
	opts       OrchestratorOptions
	logger     *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(
	classifier ports.IntentClassifier,
	retriever ports.Retriever,
	reranker ports.PassageReranker,
	fallback ports.FallbackSearcher,
	generator ports.Generator,
	publisher ports.AuditPublisher,
	metrics ports.PipelineMetrics,
	opts OrchestratorOptions,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{
		classifier: classifier,
		retriever:  retriever,
		reranker:   reranker,
		fallback:   fallback,
		generator:  newQuotaAwareGenerator(generator, logger),
		publisher:  publisher,
		metrics:    metrics,
		opts:       opts.normalize(),
		logger:     logger,
		now:        time.Now,
	}
}

// Answer starts the request and returns its event stream. The channel is
// closed after End. Cancelling ctx stops generation and fallback search;
// events not yet delivered at that point are dropped. A deadline on ctx is a
// failure instead: the stream gets a timeout message and still reaches End.
func (o *Orchestrator) Answer(ctx context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent, o.opts.EventBuffer)
	run := &answerRun{
		ctx:     ctx,
		out:     out,
		started: o.now(),
		scope:   req.Query.Scope,
		audit: domain.AnswerAudit{
			ID:             uuid.NewString(),
			RequestID:      req.RequestID,
			ConversationID: req.ConversationID,
			Query:          req.Query.Text,
		},
	}

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("answer_panic", "request_id", req.RequestID, "panic", fmt.Sprint(r))
				if !run.ended {
					run.fail(msgGenerationFailed)
					o.finish(run)
				}
			}
		}()
		o.run(run, req)
		o.finish(run)
	}()
	return out
}

func (o *Orchestrator) run(run *answerRun, req domain.AnswerRequest) {
	ctx := run.ctx
	history := trimHistory(req.Query.History, o.opts.HistoryTurns)

	expanded, queryType := o.classifier.Classify(ctx, req.Query.Text, history)
	run.queryType = queryType
	run.audit.ExpandedQuery = expanded.SearchText()
	run.counts.HistoryLen = len(history)
	o.logger.Info("answer_classified",
		"request_id", req.RequestID,
		"query_type", queryType,
		"corrections", len(expanded.Corrections),
	)

	switch queryType {
	case domain.QueryTypeOffTopic:
		run.content(msgOffTopic)
	case domain.QueryTypeSQLCodeTask:
		run.start()
		run.sources(nil)
		o.streamGeneration(run, buildSQLTaskPrompt(expanded.SearchText(), history))
	case domain.QueryTypeRealtimeQuestion:
		o.answerRealtime(run, expanded, history)
	default:
		o.answerFromDocuments(run, expanded, history, req.Query.Scope)
	}
}

func (o *Orchestrator) answerRealtime(run *answerRun, expanded domain.ExpandedQuery, history []domain.Turn) {
	result, err := o.fallback.Search(run.ctx, expanded.SearchText())
	if err != nil {
		run.failed = true
		return
	}
	run.audit.UsedFallback = true
	run.audit.FallbackCached = result.CacheHit
	if !result.Found {
		run.fail(msgRealtimeSearchFail)
		return
	}

	citations := make([]domain.Citation, 0, len(result.SourceURLs))
	for i, u := range result.SourceURLs {
		citations = append(citations, domain.Citation{
			Index:      i + 1,
			Provenance: domain.ProvenanceWebFallback,
			Source:     u,
			URLs:       []string{u},
		})
	}
	run.counts.Context = 1
	run.start()
	run.sources(citations)
	o.streamGeneration(run, buildRealtimePrompt(expanded.SearchText(), result.Content, history))
}

func (o *Orchestrator) answerFromDocuments(run *answerRun, expanded domain.ExpandedQuery, history []domain.Turn, scope domain.Scope) {
	ctx := run.ctx
	searchText := expanded.SearchText()

	passages, err := o.retriever.Search(ctx, searchText, o.opts.TopK, scope)
	if err != nil {
		if ctx.Err() != nil {
			run.failed = true
			return
		}
		o.logger.Warn("retrieval_failed", "error", err)
		passages = nil
	}
	run.counts.Retrieved = len(passages)

	if o.needsFallback(passages) {
		result, err := o.fallback.Search(ctx, searchText)
		if err != nil {
			run.failed = true
			return
		}
		run.audit.UsedFallback = true
		run.audit.FallbackCached = result.CacheHit
		if web, ok := FallbackPassage(result); ok {
			if len(passages) == 0 {
				passages = []domain.Passage{web}
			} else {
				passages = append(passages, web)
			}
		}
	}

	if len(passages) == 0 {
		run.content(msgNoRelevantInfo)
		return
	}

	head := trimPassages(passages, o.opts.RerankTopN)
	reranked := o.reranker.Rerank(ctx, searchText, head)
	contextSet := trimPassages(reranked, o.opts.ContextTopM)
	run.counts.Reranked = len(reranked)
	run.counts.Context = len(contextSet)

	run.start()
	run.sources(buildCitations(contextSet))
	o.streamGeneration(run, buildDocumentPrompt(searchText, buildContextBlock(contextSet), history))
}

func (o *Orchestrator) needsFallback(passages []domain.Passage) bool {
	if len(passages) == 0 {
		return true
	}
	if o.opts.FallbackMinScore <= 0 {
		return false
	}
	best := passages[0].BaseScore
	for _, p := range passages[1:] {
		if p.BaseScore > best {
			best = p.BaseScore
		}
	}
	return best < o.opts.FallbackMinScore
}

// streamGeneration forwards deltas as they arrive. A generation error turns
// the rest of the stream into one explanatory Content event.
func (o *Orchestrator) streamGeneration(run *answerRun, prompt string) {
	defer func() {
		if run.ctx.Err() != nil {
			run.failed = true
		}
	}()
	for delta, err := range o.generator.Stream(run.ctx, prompt) {
		if err != nil {
			run.failed = true
			if run.ctx.Err() != nil {
				return
			}
			o.logger.Error("generation_failed", "query_type", run.queryType, "error", err)
			msg := msgGenerationFailed
			if errors.Is(err, domain.ErrQuotaExceeded) {
				msg = msgQuotaExhausted
			}
			run.fail(msg)
			return
		}
		if delta == "" {
			continue
		}
		if !run.content(delta) {
			return
		}
	}
}

func (o *Orchestrator) finish(run *answerRun) {
	if deadlineExpired(run.ctx) && run.failed && !run.explained {
		o.logger.Warn("answer_deadline_exceeded", "request_id", run.audit.RequestID, "query_type", run.queryType)
		run.fail(msgAnswerTimedOut)
	}
	elapsed := o.now().Sub(run.started)
	run.end(elapsed.Milliseconds())

	o.metrics.ObserveAnswer(run.queryType, run.citations, run.failed, elapsed.Seconds())
	o.logger.Info("answer_completed",
		"request_id", run.audit.RequestID,
		"query_type", run.queryType,
		"retrieved", run.counts.Retrieved,
		"citations", run.citations,
		"fallback", run.audit.UsedFallback,
		"failed", run.failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if o.publisher == nil {
		return
	}
	audit := run.audit
	audit.QueryType = run.queryType
	audit.Retrieved = run.counts.Retrieved
	audit.Citations = run.citations
	audit.Failed = run.failed
	audit.ElapsedMS = elapsed.Milliseconds()
	audit.CompletedAt = o.now().UTC()

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(run.ctx), o.opts.AuditTimeout)
	defer cancel()
	if err := o.publisher.PublishAnswerCompleted(publishCtx, audit); err != nil {
		o.logger.Warn("answer_audit_publish_failed", "request_id", audit.RequestID, "error", err)
	}
}

func buildCitations(passages []domain.Passage) []domain.Citation {
	out := make([]domain.Citation, 0, len(passages))
	for i, p := range passages {
		c := domain.Citation{
			Index:      i + 1,
			Provenance: p.Provenance,
			Score:      p.BoostedScore,
		}
		if p.Provenance == domain.ProvenanceWebFallback {
			c.Source = "web_search"
			c.URLs = metadataStrings(p.Metadata, domain.MetaURLs)
		} else {
			c.Provenance = domain.ProvenanceDocument
			c.Source = metadataString(p.Metadata, domain.MetaSource)
			if strings.TrimSpace(c.Source) == "" {
				c.Source = metadataString(p.Metadata, domain.MetaDocumentID)
			}
			c.Page = metadataString(p.Metadata, domain.MetaPage)
			c.Section = metadataString(p.Metadata, domain.MetaSection)
		}
		out = append(out, c)
	}
	return out
}

// answerRun tracks one request's protocol state so every path emits
// Start, Sources, Content*, End in order.
type answerRun struct {
	ctx       context.Context
	out       chan<- domain.StreamEvent
	started   time.Time
	queryType domain.QueryType
	scope     domain.Scope
	counts    domain.StreamCounts
	citations int
	failed    bool
	audit     domain.AnswerAudit

	startSent   bool
	sourcesSent bool
	explained   bool
	ended       bool
}

func (r *answerRun) emit(ev domain.StreamEvent) bool {
	return deliver(r.ctx, r.out, ev)
}

func (r *answerRun) start() bool {
	if r.startSent {
		return true
	}
	queryType := r.queryType
	if queryType == "" {
		queryType = domain.QueryTypeDocumentQuestion
	}
	r.startSent = r.emit(domain.StartEvent(queryType, r.scope, r.counts))
	return r.startSent
}

func (r *answerRun) sources(citations []domain.Citation) bool {
	if !r.start() {
		return false
	}
	if r.sourcesSent {
		return true
	}
	r.sourcesSent = r.emit(domain.SourcesEvent(citations))
	if r.sourcesSent {
		r.citations = len(citations)
	}
	return r.sourcesSent
}

func (r *answerRun) content(text string) bool {
	if !r.sources(nil) {
		return false
	}
	return r.emit(domain.ContentEvent(text))
}

// fail marks the run failed and explains it to the reader in one Content event.
func (r *answerRun) fail(msg string) {
	r.failed = true
	r.explained = true
	r.content(msg)
}

func (r *answerRun) end(elapsedMS int64) {
	if r.ended {
		return
	}
	r.ended = true
	if !r.sources(nil) {
		return
	}
	queryType := r.queryType
	if queryType == "" {
		queryType = domain.QueryTypeDocumentQuestion
	}
	r.emit(domain.EndEvent(elapsedMS, queryType))
}
