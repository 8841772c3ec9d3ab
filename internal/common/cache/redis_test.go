package cache_test

import (
	"context"
	"testing"
	"time"

	"codegrade/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	return redisCache, mr
}

func TestBasicOps(t *testing.T) {
	redisCache, mr := newRedisCache(t)
	ctx := context.Background()

	if val, err := redisCache.Get(ctx, "missing"); err != nil || val != "" {
		t.Fatalf("missing key should read empty without error, got %q %v", val, err)
	}

	if err := redisCache.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if val, _ := redisCache.Get(ctx, "k"); val != "v" {
		t.Fatalf("expected v, got %q", val)
	}

	ok, err := redisCache.SetNX(ctx, "k", "other", time.Minute)
	if err != nil || ok {
		t.Fatalf("setnx on existing key must not overwrite")
	}

	n, err := redisCache.Exists(ctx, "k", "missing")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 existing key, got %d %v", n, err)
	}

	mr.FastForward(2 * time.Minute)
	if val, _ := redisCache.Get(ctx, "k"); val != "" {
		t.Fatalf("key should expire")
	}
}

func TestIncrDecr(t *testing.T) {
	redisCache, _ := newRedisCache(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := redisCache.Incr(ctx, "counter")
		if err != nil || n != i {
			t.Fatalf("incr %d: got %d %v", i, n, err)
		}
	}
	n, err := redisCache.Decr(ctx, "counter")
	if err != nil || n != 2 {
		t.Fatalf("decr: got %d %v", n, err)
	}
}

func TestLockOwnership(t *testing.T) {
	redisCache, _ := newRedisCache(t)
	ctx := context.Background()

	acquired, err := redisCache.TryLock(ctx, "lock", "token-a", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("first lock should succeed: %v", err)
	}
	if acquired, _ := redisCache.TryLock(ctx, "lock", "token-b", time.Minute); acquired {
		t.Fatalf("held lock must refuse a second owner")
	}

	// A foreign token cannot release the lock.
	if err := redisCache.Unlock(ctx, "lock", "token-b"); err != nil {
		t.Fatalf("unlock with wrong token should be a no-op: %v", err)
	}
	if acquired, _ := redisCache.TryLock(ctx, "lock", "token-b", time.Minute); acquired {
		t.Fatalf("lock should still be held after foreign unlock")
	}

	if err := redisCache.Unlock(ctx, "lock", "token-a"); err != nil {
		t.Fatalf("owner unlock: %v", err)
	}
	if acquired, _ := redisCache.TryLock(ctx, "lock", "token-b", time.Minute); !acquired {
		t.Fatalf("lock should be free after owner release")
	}
}

func TestExtendLock(t *testing.T) {
	redisCache, mr := newRedisCache(t)
	ctx := context.Background()

	if acquired, _ := redisCache.TryLock(ctx, "lock", "token-a", time.Minute); !acquired {
		t.Fatalf("lock should succeed")
	}
	if err := redisCache.ExtendLock(ctx, "lock", "token-a", 5*time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if acquired, _ := redisCache.TryLock(ctx, "lock", "token-b", time.Minute); acquired {
		t.Fatalf("extended lock should outlive the original TTL")
	}
}

type record struct {
	Name string `json:"name"`
}

func TestGetWithCachedCachesResultAndAbsence(t *testing.T) {
	redisCache, _ := newRedisCache(t)
	ctx := context.Background()

	loads := 0
	load := func(value *record) func(context.Context) (*record, error) {
		return func(context.Context) (*record, error) {
			loads++
			return value, nil
		}
	}
	isEmpty := func(r *record) bool { return r == nil }
	marshal := func(r *record) string { return r.Name }
	unmarshal := func(s string) (*record, error) { return &record{Name: s}, nil }

	got, err := cache.GetWithCached(ctx, redisCache, "rec", time.Minute, time.Minute, isEmpty, marshal, unmarshal, load(&record{Name: "a"}))
	if err != nil || got == nil || got.Name != "a" {
		t.Fatalf("first read should load: %v %v", got, err)
	}
	got, err = cache.GetWithCached(ctx, redisCache, "rec", time.Minute, time.Minute, isEmpty, marshal, unmarshal, load(&record{Name: "b"}))
	if err != nil || got.Name != "a" {
		t.Fatalf("second read should hit the cache: %v %v", got, err)
	}
	if loads != 1 {
		t.Fatalf("expected a single load, got %d", loads)
	}

	// Absence is cached too, so repeated misses do not hammer the source.
	got, err = cache.GetWithCached(ctx, redisCache, "none", time.Minute, time.Minute, isEmpty, marshal, unmarshal, load(nil))
	if err != nil || got != nil {
		t.Fatalf("empty load should yield nil: %v %v", got, err)
	}
	loadsBefore := loads
	_, _ = cache.GetWithCached(ctx, redisCache, "none", time.Minute, time.Minute, isEmpty, marshal, unmarshal, load(nil))
	if loads != loadsBefore {
		t.Fatalf("cached absence should not reload")
	}
}

func TestJitterTTLStaysWithinBounds(t *testing.T) {
	base := time.Hour
	for i := 0; i < 100; i++ {
		ttl := cache.JitterTTL(base)
		if ttl > base || ttl < base-base/10 {
			t.Fatalf("jittered ttl %v out of bounds", ttl)
		}
	}
}
