package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value    V
	storedAt time.Time
}

// TTLCache is a thread-safe, in-memory cache whose entries expire a fixed
// duration after they were stored. Expired entries are evicted lazily by the Get
// that observes them; there is no background sweep and no capacity bound.
type TTLCache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	data map[K]ttlEntry[V]
}

// TTLCacheOption configures a TTLCache.
type TTLCacheOption func(*ttlCacheOptions)

type ttlCacheOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) TTLCacheOption {
	return func(o *ttlCacheOptions) { o.now = now }
}

// NewTTLCache creates an in-memory cache. A non-positive ttl falls back to DefaultTTL.
func NewTTLCache[K comparable, V any](ttl time.Duration, opts ...TTLCacheOption) *TTLCache[K, V] {
	o := ttlCacheOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLCache[K, V]{
		ttl:  ttl,
		now:  o.now,
		data: make(map[K]ttlEntry[V]),
	}
}

// Get returns the value stored under key while it is younger than the TTL.
func (c *TTLCache[K, V]) Get(_ context.Context, key K) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.data[key]
	if !ok {
		return zero, fmt.Errorf("key '%v': %w", key, ErrCacheMiss)
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.data, key)
		return zero, fmt.Errorf("key '%v' expired: %w", key, ErrCacheMiss)
	}
	return entry.value, nil
}

// Set stores value under key with the current time.
func (c *TTLCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = ttlEntry[V]{value: value, storedAt: c.now()}
	return nil
}

// Invalidate removes key if present.
func (c *TTLCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Clear removes every entry.
func (c *TTLCache[K, V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]ttlEntry[V])
	return nil
}

// Len returns the number of entries held, including expired entries that no
// Get has observed yet.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Close is a no-op for the in-memory cache.
func (c *TTLCache[K, V]) Close() error {
	return nil
}
