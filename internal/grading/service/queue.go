package service

import (
	"context"
	"strconv"

	"codegrade/internal/common/cache"
	appErr "codegrade/pkg/errors"
)

const (
	gaugeWaitingKey = "grading:gauge:waiting"
)

// QueueStatus is a point-in-time view of grading backlog.
type QueueStatus struct {
	// Waiting counts accepted submissions not yet picked up by a worker.
	Waiting int64 `json:"waiting"`
	// Active counts submissions currently being graded.
	Active int64 `json:"active"`
}

// GaugeStore tracks queue gauges. Gauges are advisory: a crashed worker
// can leak a count until the TTL clears it, so readings are approximate.
type GaugeStore interface {
	IncrWaiting(ctx context.Context)
	DecrWaiting(ctx context.Context)
	IncrActive(ctx context.Context)
	DecrActive(ctx context.Context)
	Snapshot(ctx context.Context) (QueueStatus, error)
}

// CacheGaugeStore keeps gauges in the shared cache so every API instance
// sees the same backlog numbers.
type CacheGaugeStore struct {
	cache cache.Cache
}

// NewCacheGaugeStore creates a gauge store over the shared cache.
func NewCacheGaugeStore(cacheClient cache.Cache) *CacheGaugeStore {
	return &CacheGaugeStore{cache: cacheClient}
}

func (g *CacheGaugeStore) IncrWaiting(ctx context.Context) { g.bump(ctx, gaugeWaitingKey, true) }
func (g *CacheGaugeStore) DecrWaiting(ctx context.Context) { g.bump(ctx, gaugeWaitingKey, false) }
func (g *CacheGaugeStore) IncrActive(ctx context.Context)  { g.bump(ctx, gaugeActiveKey, true) }
func (g *CacheGaugeStore) DecrActive(ctx context.Context)  { g.bump(ctx, gaugeActiveKey, false) }

func (g *CacheGaugeStore) bump(ctx context.Context, key string, up bool) {
	if g.cache == nil {
		return
	}
	var err error
	if up {
		_, err = g.cache.Incr(ctx, key)
	} else {
		_, err = g.cache.Decr(ctx, key)
	}
	if err != nil {
		return
	}
	_ = g.cache.Expire(ctx, key, gaugeTTL)
}

// Snapshot reads both gauges, clamping any drift below zero.
func (g *CacheGaugeStore) Snapshot(ctx context.Context) (QueueStatus, error) {
	if g.cache == nil {
		return QueueStatus{}, nil
	}
	waiting, err := g.readGauge(ctx, gaugeWaitingKey)
	if err != nil {
		return QueueStatus{}, err
	}
	active, err := g.readGauge(ctx, gaugeActiveKey)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{Waiting: waiting, Active: active}, nil
}

func (g *CacheGaugeStore) readGauge(ctx context.Context, key string) (int64, error) {
	raw, err := g.cache.Get(ctx, key)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CacheError)
	}
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, nil
	}
	return value, nil
}
