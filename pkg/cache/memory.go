package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/bazaar/pkg/observability"
)

// MemoryCache is a per-process LRU with TTL expiry
type MemoryCache struct {
	cache   *lru.LRU[string, []byte]
	metrics *observability.Metrics
}

// NewMemoryCache creates an LRU holding at most size entries
func NewMemoryCache(size int, ttl time.Duration, metrics *observability.Metrics) *MemoryCache {
	if size < 1 {
		size = 1
	}
	return &MemoryCache{
		cache:   lru.NewLRU[string, []byte](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := c.cache.Get(key)
	recordLookup(c.metrics, "memory", ok)
	if !ok {
		return nil, ErrCacheMiss
	}
	return value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.cache.Add(key, value)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Remove(key)
	}
	return nil
}

func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
