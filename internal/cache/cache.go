// Package cache wraps an expiring LRU owned by the component that constructs
// it. There is no package-level state.
package cache

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// NoExpiry keeps entries until they are deleted or evicted.
const NoExpiry time.Duration = 0

// Cache is a size-bounded, concurrency-safe LRU whose entries expire after a TTL.
type Cache[K comparable, V any] struct {
	lru   *expirable.LRU[K, V]
	group singleflight.Group
	ttl   time.Duration
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	maxSize int
}

// WithMaxSize bounds the number of entries; the least recently used entry
// is evicted when full. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// New creates a Cache with the given TTL. NoExpiry disables expiry.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{
		lru: expirable.NewLRU[K, V](o.maxSize, nil, ttl),
		ttl: ttl,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.lru.Remove(key)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of stored entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// TTL returns the entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Concurrent misses for one key share a single load. Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return v, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}
