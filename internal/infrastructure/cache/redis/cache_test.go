package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type kvStub struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
}

func newKVStub() *kvStub {
	return &kvStub{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *kvStub) Get(_ context.Context, key string) *goredis.StringCmd {
	if s.failGet != nil {
		return goredis.NewStringResult("", s.failGet)
	}
	v, ok := s.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (s *kvStub) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	s.values[key] = string(value.([]byte))
	s.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func TestCacheRoundTripUsesPrefixAndTTL(t *testing.T) {
	stub := newKVStub()
	c := newCache(stub, Options{TTL: 30 * time.Minute}, nil)
	ctx := context.Background()
	stored := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	c.Set(ctx, "abc", domain.CacheEntry{Content: "web", SourceURLs: []string{"https://a"}, StoredAt: stored})

	if _, ok := stub.values["docqa:fallback:abc"]; !ok {
		t.Fatalf("expected prefixed key, got %v", stub.values)
	}
	if ttl := stub.ttls["docqa:fallback:abc"]; ttl != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", ttl)
	}

	got, ok := c.Get(ctx, "abc")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Content != "web" || len(got.SourceURLs) != 1 || got.SourceURLs[0] != "https://a" || !got.StoredAt.Equal(stored) {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestCacheMissAndFailuresAreMisses(t *testing.T) {
	stub := newKVStub()
	c := newCache(stub, Options{}, nil)

	if _, ok := c.Get(context.Background(), "missing"); ok {
		t.Fatalf("expected miss for absent key")
	}

	stub.values["docqa:fallback:bad"] = "{not json"
	if _, ok := c.Get(context.Background(), "bad"); ok {
		t.Fatalf("expected miss for corrupt entry")
	}

	stub.failGet = errors.New("connection refused")
	if _, ok := c.Get(context.Background(), "abc"); ok {
		t.Fatalf("expected miss when redis fails")
	}
}
