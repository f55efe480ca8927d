// Package cache provides read-through caches with stampede protection. It
// backs the token verification cache so repeated AUTHENTICATE frames carrying
// the same token skip signature verification.
package cache

import (
	"context"
	"time"
)

// FetchFunc loads a value from the source on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache is a read-through cache keyed by string.
//
// Implementations must be safe for concurrent use and must never store the
// result of a fetch that returned an error.
type Cache[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetch and stores
	// its result for ttl. Concurrent misses for one key share a single fetch.
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error)

	// Delete removes key from the cache.
	Delete(ctx context.Context, key string) error
}

// Nop is a Cache that stores nothing; every call goes to fetch.
type Nop[T any] struct{}

// GetOrFetch implements Cache.
func (Nop[T]) GetOrFetch(ctx context.Context, _ string, _ time.Duration, fetch FetchFunc[T]) (T, error) {
	return fetch(ctx)
}

// Delete implements Cache.
func (Nop[T]) Delete(context.Context, string) error { return nil }
