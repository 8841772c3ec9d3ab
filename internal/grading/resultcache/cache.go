// Package resultcache maps submission fingerprints to graded results and
// implements the claim protocol that guarantees at most one in-flight
// grading computation per fingerprint system-wide.
package resultcache

import (
	"context"
	"encoding/json"
	"time"

	"codegrade/internal/common/cache"
	"codegrade/internal/grading/model"
	appErr "codegrade/pkg/errors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	resultKeyPrefix = "grading:result:"
	claimKeyPrefix  = "grading:claim:"

	defaultResultTTL    = 24 * time.Hour
	defaultClaimTTL     = 2 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

// Config holds result cache settings.
type Config struct {
	ResultTTL    time.Duration `yaml:"resultTTL"`
	ClaimTTL     time.Duration `yaml:"claimTTL"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// ResultCache caches graded results by fingerprint.
// Entries are disposable: losing one costs a recomputation, never
// correctness, because the submission store stays the system of record.
type ResultCache struct {
	cache        cache.Cache
	resultTTL    time.Duration
	claimTTL     time.Duration
	pollInterval time.Duration

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Claim is a held fingerprint claim. The holder must Release it, with or
// without having populated the cache.
type Claim struct {
	Fingerprint string
	token       string
}

// New creates a result cache on top of the shared cache client.
func New(cacheClient cache.Cache, cfg Config) (*ResultCache, error) {
	if cacheClient == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is required")
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &ResultCache{
		cache:        cacheClient,
		resultTTL:    cfg.ResultTTL,
		claimTTL:     cfg.ClaimTTL,
		pollInterval: cfg.PollInterval,
		encoder:      encoder,
		decoder:      decoder,
	}, nil
}

// Get returns the cached graded result for a fingerprint, if any.
func (r *ResultCache) Get(ctx context.Context, fingerprint string) (*model.GradedResult, bool, error) {
	raw, err := r.cache.Get(ctx, resultKeyPrefix+fingerprint)
	if err != nil {
		return nil, false, appErr.Wrap(err, appErr.CacheError)
	}
	if raw == "" {
		return nil, false, nil
	}
	result, err := r.decode([]byte(raw))
	if err != nil {
		// A corrupt entry is treated as a miss; recomputation heals it.
		_ = r.cache.Del(ctx, resultKeyPrefix+fingerprint)
		return nil, false, nil
	}
	return result, true, nil
}

// Put stores a graded result with the configured TTL, jittered so batches
// of identical submissions do not expire at once.
func (r *ResultCache) Put(ctx context.Context, fingerprint string, result *model.GradedResult) error {
	if result == nil {
		return appErr.New(appErr.CacheError).WithMessage("result is nil")
	}
	encoded, err := r.encode(result)
	if err != nil {
		return err
	}
	ttl := cache.JitterTTL(r.resultTTL)
	if err := r.cache.Set(ctx, resultKeyPrefix+fingerprint, string(encoded), ttl); err != nil {
		return appErr.Wrap(err, appErr.CacheError)
	}
	return nil
}

// TryClaim attempts to take the single-flight claim for a fingerprint.
// On success the caller owns the computation; on contention the caller
// should Await the holder's result.
func (r *ResultCache) TryClaim(ctx context.Context, fingerprint string) (*Claim, bool, error) {
	token := uuid.NewString()
	acquired, err := r.cache.TryLock(ctx, claimKeyPrefix+fingerprint, token, r.claimTTL)
	if err != nil {
		return nil, false, appErr.Wrap(err, appErr.ClaimFailed)
	}
	if !acquired {
		return nil, false, nil
	}
	return &Claim{Fingerprint: fingerprint, token: token}, true, nil
}

// Extend refreshes the claim TTL while a long computation is in flight.
func (r *ResultCache) Extend(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	return r.cache.ExtendLock(ctx, claimKeyPrefix+claim.Fingerprint, claim.token, r.claimTTL)
}

// Release frees the claim. Release never populates the cache by itself:
// successful holders Put first, failed holders just Release so the next
// submission may retry.
func (r *ResultCache) Release(ctx context.Context, claim *Claim) {
	if claim == nil {
		return
	}
	_ = r.cache.Unlock(ctx, claimKeyPrefix+claim.Fingerprint, claim.token)
}

// Await blocks until the claim holder publishes a result, the claim
// disappears without a result (holder failed), or ctx expires.
// The boolean reports whether a result was obtained.
func (r *ResultCache) Await(ctx context.Context, fingerprint string) (*model.GradedResult, bool, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		result, found, err := r.Get(ctx, fingerprint)
		if err != nil {
			return nil, false, err
		}
		if found {
			return result, true, nil
		}

		held, err := r.cache.Exists(ctx, claimKeyPrefix+fingerprint)
		if err != nil {
			return nil, false, appErr.Wrap(err, appErr.CacheError)
		}
		if held == 0 {
			// Holder released without publishing; caller decides whether
			// to claim and recompute.
			return nil, false, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (r *ResultCache) encode(result *model.GradedResult) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	return r.encoder.EncodeAll(raw, nil), nil
}

func (r *ResultCache) decode(data []byte) (*model.GradedResult, error) {
	raw, err := r.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	var result model.GradedResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	return &result, nil
}
