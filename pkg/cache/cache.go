// Package cache is the read-through cache in front of extension lookups.
//
// The relational store is always the source of truth. Every marketplace
// write that changes an extension (including download counters and
// rating aggregates) deletes its key, so the cache only ever shortens
// reads and never serves a value older than the last write plus the time
// to invalidate.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/bazaar/pkg/observability"
)

// ErrCacheMiss is returned by Get when the key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Cache stores opaque values by key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Config selects and sizes the cache backend
type Config struct {
	RedisURL string
	LRUSize  int
	TTL      time.Duration
}

// New returns a Redis cache when a URL is configured, an in-process LRU
// when a size is configured, and a no-op cache otherwise.
func New(ctx context.Context, cfg Config, metrics *observability.Metrics) (Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	switch {
	case cfg.RedisURL != "":
		c, err := NewRedisCacheFromURL(ctx, cfg.RedisURL, cfg.TTL, metrics)
		if err != nil {
			return nil, err
		}
		return c, nil
	case cfg.LRUSize > 0:
		return NewMemoryCache(cfg.LRUSize, cfg.TTL, metrics), nil
	default:
		return NopCache{}, nil
	}
}

// ExtensionKey is the cache key for an extension looked up by slug
func ExtensionKey(slug string) string {
	return "extension:" + slug
}

// NopCache never stores anything
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NopCache) Set(context.Context, string, []byte) error { return nil }

func (NopCache) Delete(context.Context, ...string) error { return nil }

func (NopCache) Close() error { return nil }

func recordLookup(metrics *observability.Metrics, cacheType string, hit bool) {
	if metrics == nil {
		return
	}
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	metrics.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}
