package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Memory is an in-process Cache backed by go-cache. Concurrent misses for the
// same key are collapsed with singleflight.
type Memory[T any] struct {
	items *gocache.Cache
	group singleflight.Group
}

// NewMemory creates a memory cache. defaultTTL applies when GetOrFetch is
// called with a zero ttl; expired items are purged every cleanupInterval.
func NewMemory[T any](defaultTTL, cleanupInterval time.Duration) *Memory[T] {
	return &Memory[T]{
		items: gocache.New(defaultTTL, cleanupInterval),
	}
}

// GetOrFetch implements Cache.
func (m *Memory[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := m.lookup(key); ok {
		return v, nil
	}

	val, err, _ := m.group.Do(key, func() (any, error) {
		// Another caller may have filled the key while we waited.
		if v, ok := m.lookup(key); ok {
			return v, nil
		}

		fetched, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		if ttl <= 0 {
			ttl = gocache.DefaultExpiration
		}
		m.items.Set(key, fetched, ttl)
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in cache for key %s", key)
	}
	return typed, nil
}

// Delete implements Cache.
func (m *Memory[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.items.Delete(key)
	return nil
}

// Len returns the number of items currently held, including expired items
// not yet purged.
func (m *Memory[T]) Len() int {
	return m.items.ItemCount()
}

func (m *Memory[T]) lookup(key string) (T, bool) {
	var zero T
	raw, found := m.items.Get(key)
	if !found {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}
