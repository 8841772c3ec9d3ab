package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between different cache implementations
// (Redis, local memory) without changing business logic.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// A missing key yields an empty string and a nil error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)

	// Decr decrements the integer value of a key by 1
	Decr(ctx context.Context, key string) (int64, error)
}

// LockOps defines distributed lock operations used for fingerprint claims
type LockOps interface {
	// TryLock attempts to acquire a lock identified by key, storing token
	// as the owner marker. Returns true if the lock was acquired.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases the lock only if token still owns it.
	Unlock(ctx context.Context, key, token string) error

	// ExtendLock refreshes the TTL of a lock still owned by token.
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) error
}
