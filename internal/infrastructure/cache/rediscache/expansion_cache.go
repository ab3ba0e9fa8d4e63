package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

const (
	defaultTTL    = 10 * time.Minute
	expansionKeys = "rag:expansion:"
)

// ExpansionCache memoizes query rephrasings. Redis failures never fail the
// expansion; the inner expander is called instead.
type ExpansionCache struct {
	inner ports.QueryExpander
	redis redis.UniversalClient
	ttl   time.Duration
	scope string
}

// NewExpansionCache wraps inner. scope separates entries produced by
// different utility models.
func NewExpansionCache(inner ports.QueryExpander, rdb redis.UniversalClient, ttl time.Duration, scope string) *ExpansionCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ExpansionCache{inner: inner, redis: rdb, ttl: ttl, scope: scope}
}

func (c *ExpansionCache) ExpandQuery(ctx context.Context, query string, n int) ([]string, error) {
	key := c.cacheKey(query, n)
	if cached, ok := c.get(ctx, key); ok {
		return cached, nil
	}

	variants, err := c.inner.ExpandQuery(ctx, query, n)
	if err != nil {
		return nil, err
	}
	if len(variants) > 0 {
		c.set(ctx, key, variants)
	}
	return variants, nil
}

func (c *ExpansionCache) get(ctx context.Context, key string) ([]string, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "expansion_cache_get_failed", "error", err)
		}
		return nil, false
	}
	var variants []string
	if err := json.Unmarshal(data, &variants); err != nil {
		slog.WarnContext(ctx, "expansion_cache_decode_failed", "key", key, "error", err)
		return nil, false
	}
	return variants, true
}

func (c *ExpansionCache) set(ctx context.Context, key string, variants []string) {
	data, err := json.Marshal(variants)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "expansion_cache_set_failed", "key", key, "error", err)
	}
}

func (c *ExpansionCache) cacheKey(query string, n int) string {
	raw := fmt.Sprintf("%s|%d|%s", c.scope, n, strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(raw))
	return expansionKeys + hex.EncodeToString(sum[:12])
}

// NewClient connects to a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
