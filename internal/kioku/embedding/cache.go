package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

// Cache stores vectors by key. Implementations must be safe for concurrent
// use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// CacheKey derives the cache key for text under a model namespace, so a
// model change never serves stale vectors.
func CacheKey(model, text string) string {
	return model + ":" + strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache returns a MemoryCache whose entries live for ttl.
// A non-positive ttl keeps entries until the process exits.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		return &MemoryCache{c: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryCache{c: gocache.New(ttl, ttl*2)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	v, found := m.c.Get(key)
	if !found {
		return nil, false, nil
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), vec...), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	m.c.Set(key, append([]float32(nil), vec...), gocache.DefaultExpiration)
	return nil
}

// Len returns the number of cached entries, including expired ones not yet
// swept.
func (m *MemoryCache) Len() int { return m.c.ItemCount() }

// RedisCache stores vectors in Redis using the same binary encoding as the
// database, so several Kioku processes share one cache.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. Keys are prefixed with prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to a single Redis node and verifies it with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	vec, err := DecodeVector(b)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	if err := r.client.Set(ctx, r.prefix+key, EncodeVector(vec), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CachedEmbedder decorates an Embedder with a Cache. Cache failures are
// logged and bypassed; they never fail an embedding.
type CachedEmbedder struct {
	inner   Embedder
	cache   Cache
	model   string
	backend string
	logger  *slog.Logger
}

// NewCachedEmbedder returns inner behind cache. backend labels metrics.
func NewCachedEmbedder(inner Embedder, cache Cache, model, backend string, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model, backend: backend, logger: logger}
}

// Embed serves text from the cache or delegates to the inner embedder and
// stores the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	key := CacheKey(c.model, text)

	vec, found, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("embedding cache read failed", "backend", c.backend, "err", err)
	case found:
		metrics.EmbeddingCache.WithLabelValues(c.backend, metrics.ResultHit).Inc()
		return vec, nil
	default:
		metrics.EmbeddingCache.WithLabelValues(c.backend, metrics.ResultMiss).Inc()
	}

	vec, err = c.inner.Embed(ctx, text)
	if err != nil || vec == nil {
		return vec, err
	}
	if err := c.cache.Set(ctx, key, vec); err != nil {
		c.logger.Warn("embedding cache write failed", "backend", c.backend, "err", err)
	}
	return vec, nil
}

var (
	_ Cache    = (*MemoryCache)(nil)
	_ Cache    = (*RedisCache)(nil)
	_ Embedder = (*CachedEmbedder)(nil)
)
