package service

import (
	"context"
	"time"

	"codegrade/internal/common/cache"
	appErr "codegrade/pkg/errors"
)

// RateLimiter throttles per-learner submission bursts.
type RateLimiter interface {
	// Allow reports whether one more event fits under the limit of burst
	// events per window for the given key.
	Allow(ctx context.Context, key string, burst int, window time.Duration) (bool, error)
}

// CacheRateLimiter is a fixed-window counter in the shared cache, so the
// limit holds across API instances.
type CacheRateLimiter struct {
	cache cache.Cache
}

// NewCacheRateLimiter creates a cache-backed rate limiter.
func NewCacheRateLimiter(cacheClient cache.Cache) *CacheRateLimiter {
	return &CacheRateLimiter{cache: cacheClient}
}

// Allow counts the event and reports whether it is within the window
// budget. The first event of a window starts the window's expiry.
func (l *CacheRateLimiter) Allow(ctx context.Context, key string, burst int, window time.Duration) (bool, error) {
	if l.cache == nil {
		return true, nil
	}
	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return false, appErr.Wrap(err, appErr.CacheError)
	}
	if count == 1 {
		if err := l.cache.Expire(ctx, key, window); err != nil {
			return false, appErr.Wrap(err, appErr.CacheError)
		}
	}
	return count <= int64(burst), nil
}
