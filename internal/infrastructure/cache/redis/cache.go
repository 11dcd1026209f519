package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// kv is the subset of the go-redis client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Cache shares fallback results between API replicas. Redis failures are
// logged and reported as misses.
type Cache struct {
	rdb    kv
	closer func() error
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func New(ctx context.Context, opts Options, logger *slog.Logger) (*Cache, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := newCache(rdb, opts, logger)
	c.closer = rdb.Close
	return c, nil
}

func newCache(rdb kv, opts Options, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "docqa:fallback:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *Cache) Get(ctx context.Context, key string) (domain.CacheEntry, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("fallback_cache_get_failed", "error", err)
		}
		return domain.CacheEntry{}, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("fallback_cache_decode_failed", "error", err)
		return domain.CacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) Set(ctx context.Context, key string, entry domain.CacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("fallback_cache_encode_failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("fallback_cache_set_failed", "error", err)
	}
}

func (c *Cache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
