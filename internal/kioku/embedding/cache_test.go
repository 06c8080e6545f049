package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCacheKey(t *testing.T) {
	if CacheKey("m1", "text") == CacheKey("m2", "text") {
		t.Error("keys must differ across models")
	}
	if CacheKey("m1", "a") == CacheKey("m1", "b") {
		t.Error("keys must differ across texts")
	}
	if CacheKey("m1", "a") != CacheKey("m1", "a") {
		t.Error("keys must be deterministic")
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	if _, found, _ := c.Get(ctx, "k"); found {
		t.Fatal("empty cache reported a hit")
	}
	vec := []float32{1, 2, 3}
	if err := c.Set(ctx, "k", vec); err != nil {
		t.Fatalf("Set: %v", err)
	}
	vec[0] = 99

	got, found, err := c.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get = %v, %v", found, err)
	}
	if got[0] != 1 {
		t.Errorf("cache aliased caller slice: got[0] = %v", got[0])
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestRedisCache(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client, "kioku:test:", time.Hour)

	if _, found, err := c.Get(ctx, "k"); err != nil || found {
		t.Fatalf("Get on empty = %v, %v", found, err)
	}
	if err := c.Set(ctx, "k", []float32{0.25, -0.5}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.Exists("kioku:test:k") {
		t.Fatal("key not written with prefix")
	}

	got, found, err := c.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get = %v, %v", found, err)
	}
	if len(got) != 2 || got[0] != 0.25 || got[1] != -0.5 {
		t.Errorf("got %v", got)
	}

	s.FastForward(2 * time.Hour)
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Error("entry survived its TTL")
	}
}

func TestDialRedis(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	client, err := DialRedis(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	client.Close()

	s.Close()
	if _, err := DialRedis(context.Background(), addr, "", 0); err == nil {
		t.Error("expected error dialing a stopped server")
	}
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]float32, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingCache) Set(context.Context, string, []float32) error { return errors.New("cache down") }

func TestCachedEmbedder(t *testing.T) {
	var calls atomic.Int32
	inner := funcEmbedder(func(context.Context, string) ([]float32, error) {
		calls.Add(1)
		return []float32{1, 0}, nil
	})

	ctx := context.Background()
	e := NewCachedEmbedder(inner, NewMemoryCache(time.Minute), "m", "memory", nil)
	for i := 0; i < 3; i++ {
		if _, err := e.Embed(ctx, "same text"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("inner called %d times, want 1", calls.Load())
	}

	calls.Store(0)
	broken := NewCachedEmbedder(inner, failingCache{}, "m", "broken", nil)
	vec, err := broken.Embed(ctx, "text")
	if err != nil || len(vec) != 2 {
		t.Fatalf("cache failure leaked: %v, %v", vec, err)
	}
	if calls.Load() != 1 {
		t.Errorf("inner called %d times, want 1", calls.Load())
	}
}
