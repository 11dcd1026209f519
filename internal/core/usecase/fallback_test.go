package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

func sampleWebResults() []domain.WebResult {
	return []domain.WebResult{
		{Title: "PostgreSQL 16 Released", URL: "https://www.postgresql.org/about/news/16", Content: "Logical replication from standbys."},
		{Title: "What's new", URL: "https://example.org/pg16", Content: "Improved query parallelism."},
	}
}

func TestFallbackSearchCachesIdenticalQueries(t *testing.T) {
	provider := &webProviderFake{results: sampleWebResults()}
	cache := newMapCacheFake()
	c := NewFallbackSearchController(provider, cache, nil, FallbackOptions{}, nil, nil)

	first, err := c.Search(context.Background(), "PostgreSQL 16 features 2024")
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if !first.Found || first.CacheHit {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if !strings.Contains(first.Content, "Title: PostgreSQL 16 Released") || len(first.SourceURLs) != 2 {
		t.Fatalf("unexpected assembled content: %+v", first)
	}

	second, err := c.Search(context.Background(), "  postgresql 16   FEATURES 2024 ")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if !second.CacheHit || second.Content != first.Content {
		t.Fatalf("expected cache hit with same content, got %+v", second)
	}
	if provider.callCount() != 1 {
		t.Fatalf("expected provider to be called once, got %d", provider.callCount())
	}
}

func TestFallbackSearchCacheExpires(t *testing.T) {
	provider := &webProviderFake{results: sampleWebResults()}
	c := NewFallbackSearchController(provider, newMapCacheFake(), nil, FallbackOptions{CacheTTL: time.Minute}, nil, nil)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, err := c.Search(context.Background(), "mysql 9 release"); err != nil {
		t.Fatalf("search: %v", err)
	}
	now = now.Add(2 * time.Minute)
	res, err := c.Search(context.Background(), "mysql 9 release")
	if err != nil {
		t.Fatalf("search after ttl: %v", err)
	}
	if res.CacheHit || provider.callCount() != 2 {
		t.Fatalf("expected expired entry to be refetched: hit=%v calls=%d", res.CacheHit, provider.callCount())
	}
}

func TestFallbackSearchProviderErrorIsNotFound(t *testing.T) {
	provider := &webProviderFake{err: errors.New("upstream 500")}
	cache := newMapCacheFake()
	c := NewFallbackSearchController(provider, cache, nil, FallbackOptions{}, nil, nil)

	res, err := c.Search(context.Background(), "sql server 2025")
	if err != nil {
		t.Fatalf("provider failure must not surface as error: %v", err)
	}
	if res.Found || res.Content != fallbackNotFound || len(res.SourceURLs) != 0 {
		t.Fatalf("expected not-found sentinel, got %+v", res)
	}
	if cache.sets != 0 {
		t.Fatalf("failures must not be cached")
	}
}

func TestFallbackSearchEmptyResultsAreNotCached(t *testing.T) {
	provider := &webProviderFake{results: []domain.WebResult{{URL: "https://empty.example"}}}
	cache := newMapCacheFake()
	c := NewFallbackSearchController(provider, cache, nil, FallbackOptions{}, nil, nil)

	res, err := c.Search(context.Background(), "nothing here")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Found || cache.sets != 0 {
		t.Fatalf("expected not-found and no cache write, got %+v sets=%d", res, cache.sets)
	}
}

func TestFallbackSearchCancellationReleasesSlot(t *testing.T) {
	provider := &webProviderFake{results: sampleWebResults(), delay: time.Second}
	cache := newMapCacheFake()
	limiter := NewSlidingWindowLimiter(1, time.Hour)
	c := NewFallbackSearchController(provider, cache, limiter, FallbackOptions{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Search(ctx, "slow query"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if cache.sets != 0 {
		t.Fatalf("cancelled search must not write the cache")
	}
	if got := limiter.InWindow(); got != 0 {
		t.Fatalf("cancelled search must release its slot, got %d in window", got)
	}
}

func TestFallbackSearchTruncatesQueryAndContent(t *testing.T) {
	provider := &webProviderFake{results: []domain.WebResult{{Title: "t", URL: "https://a", Content: "khóa chính khóa ngoại"}}}
	c := NewFallbackSearchController(provider, newMapCacheFake(), nil, FallbackOptions{MaxQueryChars: 4, MaxContentChars: 4}, nil, nil)

	res, err := c.Search(context.Background(), "khóa chính là gì")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if provider.queries[0] != "khóa" {
		t.Fatalf("expected rune-truncated query, got %q", provider.queries[0])
	}
	if !strings.Contains(res.Content, "Content: khóa") || strings.Contains(res.Content, "chính") {
		t.Fatalf("expected truncated content, got %q", res.Content)
	}
}

func TestFallbackPassage(t *testing.T) {
	if _, ok := FallbackPassage(notFoundResult()); ok {
		t.Fatalf("not-found result must not become a passage")
	}
	p, ok := FallbackPassage(domain.FallbackResult{Content: "web text", SourceURLs: []string{"https://a"}, Found: true})
	if !ok {
		t.Fatalf("expected passage")
	}
	if p.Provenance != domain.ProvenanceWebFallback || !strings.HasPrefix(p.ID, "web-") {
		t.Fatalf("unexpected passage: %+v", p)
	}
	if urls := metadataStrings(p.Metadata, domain.MetaURLs); len(urls) != 1 || urls[0] != "https://a" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestFallbackSearchCacheHitSkipsSaturatedLimiter(t *testing.T) {
	provider := &webProviderFake{results: sampleWebResults()}
	limiter := NewSlidingWindowLimiter(1, time.Hour)
	c := NewFallbackSearchController(provider, newMapCacheFake(), limiter, FallbackOptions{}, nil, nil)

	if _, err := c.Search(context.Background(), "postgresql 16 release notes"); err != nil {
		t.Fatalf("priming search: %v", err)
	}
	if got := limiter.InWindow(); got != 1 {
		t.Fatalf("expected the window to be full, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	res, err := c.Search(ctx, "PostgreSQL 16 release notes")
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if !res.CacheHit || time.Since(started) > 25*time.Millisecond {
		t.Fatalf("expected an immediate cache hit, got %+v after %s", res, time.Since(started))
	}

	missCtx, missCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer missCancel()
	if _, err := c.Search(missCtx, "mysql 9 release notes"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected an uncached query to wait on the full window, got %v", err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("expected one provider call, got %d", provider.callCount())
	}
}

func TestFallbackSearchCollapsesConcurrentMisses(t *testing.T) {
	provider := &webProviderFake{results: sampleWebResults(), delay: 50 * time.Millisecond}
	cache := newMapCacheFake()
	c := NewFallbackSearchController(provider, cache, nil, FallbackOptions{}, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Search(context.Background(), "SQL Server 2025 new features")
			if err == nil && !res.Found {
				err = errors.New("expected a found result")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent search: %v", err)
		}
	}

	if provider.callCount() != 1 {
		t.Fatalf("expected one provider call for concurrent misses, got %d", provider.callCount())
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.sets != 1 {
		t.Fatalf("expected one cache write, got %d", cache.sets)
	}
}

func TestFallbackSearchFollowerOutlivesCancelledLeader(t *testing.T) {
	provider := &webProviderFake{results: sampleWebResults(), delay: 40 * time.Millisecond}
	c := NewFallbackSearchController(provider, newMapCacheFake(), nil, FallbackOptions{}, nil, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.Search(leaderCtx, "oracle 23ai release")
		leaderDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	followerDone := make(chan domain.FallbackResult, 1)
	go func() {
		res, _ := c.Search(context.Background(), "oracle 23ai release")
		followerDone <- res
	}()
	time.Sleep(5 * time.Millisecond)
	cancelLeader()

	if err := <-leaderDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected leader to see cancellation, got %v", err)
	}
	select {
	case res := <-followerDone:
		if !res.Found {
			t.Fatalf("expected follower to get a result, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("follower never completed")
	}
}
