package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

type FallbackOptions struct {
	CacheTTL          time.Duration
	MaxCallsPerMinute int
	MaxQueryChars     int
	MaxContentChars   int
}

func (o FallbackOptions) normalize() FallbackOptions {
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Hour
	}
	if o.MaxCallsPerMinute <= 0 {
		o.MaxCallsPerMinute = 30
	}
	if o.MaxQueryChars <= 0 {
		o.MaxQueryChars = 400
	}
	if o.MaxContentChars <= 0 {
		o.MaxContentChars = 2000
	}
	return o
}

// FallbackSearchController runs cached, rate-limited web searches. Provider
// failures resolve to a not-found result instead of an error.
type FallbackSearchController struct {
	provider ports.WebSearchProvider
	cache    ports.FallbackCache
	limiter  *SlidingWindowLimiter
	opts     FallbackOptions
	metrics  ports.PipelineMetrics
	logger   *slog.Logger
	now      func() time.Time

	// inflight collapses concurrent misses on one cache key into a single
	// provider call.
	inflight singleflight.Group
}

func NewFallbackSearchController(
	provider ports.WebSearchProvider,
	cache ports.FallbackCache,
	limiter *SlidingWindowLimiter,
	opts FallbackOptions,
	metrics ports.PipelineMetrics,
	logger *slog.Logger,
) *FallbackSearchController {
	opts = opts.normalize()
	if limiter == nil {
		limiter = NewSlidingWindowLimiter(opts.MaxCallsPerMinute, time.Minute)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSearchController{
		provider: provider,
		cache:    cache,
		limiter:  limiter,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *FallbackSearchController) Search(ctx context.Context, text string) (domain.FallbackResult, error) {
	query := truncateRunes(strings.TrimSpace(text), c.opts.MaxQueryChars)
	if query == "" {
		return notFoundResult(), nil
	}
	key := fallbackCacheKey(query)

	if result, ok := c.cached(ctx, key); ok {
		return result, nil
	}

	for {
		var leading atomic.Bool
		ch := c.inflight.DoChan(key, func() (any, error) {
			leading.Store(true)
			if err := ctx.Err(); err != nil {
				return domain.FallbackResult{}, err
			}
			return c.searchAndStore(ctx, key, query)
		})
		select {
		case <-ctx.Done():
			// A leading caller waits for its own search to unwind so the
			// limiter slot is back before it returns.
			if leading.Load() {
				<-ch
			}
			return domain.FallbackResult{}, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				result := res.Val.(domain.FallbackResult)
				result.SourceURLs = append([]string(nil), result.SourceURLs...)
				return result, nil
			}
			// The caller that led the shared search went away; search again
			// on behalf of this one.
			if res.Shared && ctx.Err() == nil && isContextError(res.Err) {
				continue
			}
			return domain.FallbackResult{}, res.Err
		}
	}
}

func (c *FallbackSearchController) cached(ctx context.Context, key string) (domain.FallbackResult, bool) {
	if c.cache == nil {
		return domain.FallbackResult{}, false
	}
	entry, ok := c.cache.Get(ctx, key)
	if !ok || c.now().Sub(entry.StoredAt) >= c.opts.CacheTTL {
		return domain.FallbackResult{}, false
	}
	c.logger.Debug("fallback_cache_hit", "key", key)
	c.metrics.ObserveFallback(true, true)
	return domain.FallbackResult{
		Content:    entry.Content,
		SourceURLs: append([]string(nil), entry.SourceURLs...),
		Found:      true,
		CacheHit:   true,
	}, true
}

// searchAndStore is the miss path: limiter, provider, cache write. ctx is the
// leading caller's.
func (c *FallbackSearchController) searchAndStore(ctx context.Context, key, query string) (domain.FallbackResult, error) {
	release, waited, err := c.limiter.Acquire(ctx)
	if err != nil {
		return domain.FallbackResult{}, err
	}
	if waited > 0 {
		c.logger.Info("fallback_rate_limited", "waited_ms", waited.Milliseconds())
		c.metrics.ObserveRateLimitWait(waited.Seconds())
	}

	results, err := c.provider.Search(ctx, query)
	if ctxErr := ctx.Err(); ctxErr != nil {
		release()
		return domain.FallbackResult{}, ctxErr
	}
	if err != nil {
		c.logger.Warn("fallback_search_failed", "error", err)
		c.metrics.ObserveFallback(false, false)
		return notFoundResult(), nil
	}

	content, urls := c.assemble(results)
	if content == "" {
		c.metrics.ObserveFallback(false, false)
		return notFoundResult(), nil
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, domain.CacheEntry{
			Content:    content,
			SourceURLs: urls,
			StoredAt:   c.now(),
		})
	}
	c.metrics.ObserveFallback(false, true)
	return domain.FallbackResult{Content: content, SourceURLs: urls, Found: true}, nil
}

func (c *FallbackSearchController) assemble(results []domain.WebResult) (string, []string) {
	var b strings.Builder
	urls := make([]string, 0, len(results))
	for _, r := range results {
		body := truncateRunes(strings.TrimSpace(r.Content), c.opts.MaxContentChars)
		if body == "" && strings.TrimSpace(r.Title) == "" {
			continue
		}
		fmt.Fprintf(&b, "Title: %s\nURL: %s\nContent: %s\n\n", strings.TrimSpace(r.Title), strings.TrimSpace(r.URL), body)
		if u := strings.TrimSpace(r.URL); u != "" {
			urls = append(urls, u)
		}
	}
	return strings.TrimSpace(b.String()), urls
}

// FallbackPassage wraps a found fallback result as the single synthetic
// web passage used for answer context.
func FallbackPassage(result domain.FallbackResult) (domain.Passage, bool) {
	if !result.Found || strings.TrimSpace(result.Content) == "" {
		return domain.Passage{}, false
	}
	return domain.Passage{
		ID:   "web-" + uuid.NewString(),
		Text: result.Content,
		Metadata: map[string]any{
			domain.MetaSource: "web_search",
			domain.MetaURLs:   append([]string(nil), result.SourceURLs...),
		},
		Provenance: domain.ProvenanceWebFallback,
	}, true
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func notFoundResult() domain.FallbackResult {
	return domain.FallbackResult{Content: fallbackNotFound, SourceURLs: []string{}}
}

func fallbackCacheKey(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

type noopMetrics struct{}

func (noopMetrics) ObserveFallback(bool, bool)                         {}
func (noopMetrics) ObserveRateLimitWait(float64)                       {}
func (noopMetrics) ObserveAnswer(domain.QueryType, int, bool, float64) {}
