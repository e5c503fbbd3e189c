// Package cache provides the tiered price cache and the request coalescer.
//
// Reads hit the per-process LRU first, then the shared Redis tier. Either
// tier being down degrades to a miss, never an error: callers fall back to
// the row store and ultimately to stale data.
package cache

import (
	"context"
	"errors"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cardpulse/cardpulse/internal/metrics"
)

const defaultMemEntries = 1024

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// TieredCache is a two-level key-value cache over opaque serialized values.
// TTL is expressed at write time; entries expire independently per key.
// The Redis client may be nil for single-node deployments.
type TieredCache struct {
	mem *lru.Cache[string, memEntry]
	rdb *redis.Client
}

// NewTieredCache builds the cache. memEntries <= 0 selects a default size.
func NewTieredCache(memEntries int, rdb *redis.Client) (*TieredCache, error) {
	if memEntries <= 0 {
		memEntries = defaultMemEntries
	}
	mem, err := lru.New[string, memEntry](memEntries)
	if err != nil {
		return nil, err
	}
	return &TieredCache{mem: mem, rdb: rdb}, nil
}

// Get returns the cached value for key, or ok=false on a miss. A Redis
// outage is logged and treated as a miss.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if entry, ok := c.mem.Get(key); ok {
		if time.Now().Before(entry.expiresAt) {
			metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
			return entry.data, true
		}
		c.mem.Remove(key)
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
			// Backfill the memory tier with whatever lifetime Redis has left.
			if ttl, terr := c.rdb.TTL(ctx, key).Result(); terr == nil && ttl > 0 {
				c.mem.Add(key, memEntry{data: data, expiresAt: time.Now().Add(ttl)})
			}
			return data, true
		case errors.Is(err, redis.Nil):
			// miss
		default:
			metrics.CacheErrorsTotal.WithLabelValues("redis", "get").Inc()
			log.Printf("Cache: redis get %s failed, treating as miss: %v", key, err)
		}
	}

	metrics.CacheMissesTotal.Inc()
	return nil, false
}

// Set stores value under key with the given TTL in both tiers. Writes are
// best-effort: a Redis failure is logged, not returned.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mem.Add(key, memEntry{data: value, expiresAt: time.Now().Add(ttl)})

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			metrics.CacheErrorsTotal.WithLabelValues("redis", "set").Inc()
			log.Printf("Cache: redis set %s failed: %v", key, err)
		}
	}
}

// Delete drops key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.mem.Remove(key)
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			metrics.CacheErrorsTotal.WithLabelValues("redis", "del").Inc()
			log.Printf("Cache: redis del %s failed: %v", key, err)
		}
	}
}
