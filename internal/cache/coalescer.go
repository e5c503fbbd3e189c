package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cardpulse/cardpulse/internal/metrics"
)

// Producer fetches a value and chooses its cache TTL. It is invoked at most
// once per key per flight, no matter how many callers are waiting.
type Producer func(ctx context.Context) (value []byte, ttl time.Duration, err error)

// Coalescer deduplicates concurrent fetches for the same key: the first
// caller runs the producer, everyone else waiting on that key receives the
// same value or the same error. Successful results are written through the
// tiered cache; failures are never cached, so the next call after a failed
// flight starts fresh. Upstream fetches cost metered credits, which is why
// this is correctness-critical rather than an optimization.
//
// Deduplication is per-process. Across processes it is best-effort: a result
// written to the shared Redis tier by one instance is a cache hit for the
// others.
type Coalescer struct {
	cache *TieredCache
	group singleflight.Group
}

// NewCoalescer wraps the given cache.
func NewCoalescer(cache *TieredCache) *Coalescer {
	return &Coalescer{cache: cache}
}

// Do runs producer for key unless a flight is already in progress, in which
// case the caller blocks until the in-flight producer settles and shares its
// outcome.
func (c *Coalescer) Do(ctx context.Context, key string, producer Producer) ([]byte, error) {
	value, err, shared := c.group.Do(key, func() (any, error) {
		data, ttl, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ctx, key, data, ttl)
		return data, nil
	})
	if shared {
		metrics.CoalescedRequestsTotal.Inc()
	}
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}
