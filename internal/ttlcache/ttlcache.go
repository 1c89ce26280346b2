// Package ttlcache provides a small generic cache with TTL-based
// expiration, backed by an LRU.
package ttlcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Metrics provides observability into cache state.
type Metrics interface {
	// Size returns the current number of entries in the cache
	Size() int
	// Name returns a human-readable name for the cache
	Name() string
}

// Cache is a generic key-value cache with TTL-based expiration.
type Cache[K comparable, V any] struct {
	name string
	lru  *expirable.LRU[K, V]
}

var _ Metrics = (*Cache[string, any])(nil)

// New creates a cache with the specified capacity and time-to-live.
// A capacity of 0 means unlimited size.
func New[K comparable, V any](name string, capacity int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		name: name,
		lru:  expirable.NewLRU[K, V](capacity, nil, ttl),
	}
}

// Size returns the current number of entries in the cache.
func (c *Cache[K, V]) Size() int {
	return c.lru.Len()
}

// Name returns the cache name for metrics.
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Store adds or updates an item in the cache.
func (c *Cache[K, V]) Store(key K, value V) {
	c.lru.Add(key, value)
}

// Load retrieves an item from the cache if it exists and has not expired.
func (c *Cache[K, V]) Load(key K) (V, bool) {
	return c.lru.Get(key)
}

// LoadOr gets the cached value for key, calling loader and caching its
// result on a miss.
func (c *Cache[K, V]) LoadOr(key K, loader func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := loader()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Invalidate removes an item from the cache.
func (c *Cache[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

// Purge removes all entries. Tests rely on this to reset state between
// cases.
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}
