// Package cache provides the fingerprinted response cache used by the fetcher
// and the state store.
package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultTTL is how long an entry stays readable after it was last written.
const DefaultTTL = 5 * time.Minute

// ErrCacheMiss is returned by Get when a key was never stored, was invalidated,
// or has expired. A stored zero value is a hit, not a miss.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a generic key/value cache with per-entry expiry.
type Cache[K comparable, V any] interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key K) (V, error)
	// Set stores value under key, overwriting any previous entry.
	Set(ctx context.Context, key K, value V) error
	// Invalidate removes a single entry.
	Invalidate(ctx context.Context, key K) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	io.Closer
}
