package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache loads missing keys with fn and caches successful loads.
type ReadThroughCache[K ~string, V any] struct {
	cache CacheManager[K, V]
	fn    func(ctx context.Context, key K) (V, error)
	ttl   time.Duration
}

func NewReadThroughCache[K ~string, V any](
	cache CacheManager[K, V],
	ttl time.Duration,
	fn func(ctx context.Context, key K) (V, error),
) *ReadThroughCache[K, V] {
	return &ReadThroughCache[K, V]{cache: cache, fn: fn, ttl: ttl}
}

// Get returns the cached value or loads it. Errors are not cached.
func (r *ReadThroughCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}
	value, err := r.fn(ctx, key)
	if err != nil {
		return value, err
	}
	r.cache.Set(ctx, key, value, r.ttl)
	return value, nil
}

// Invalidate drops key so the next Get reloads it.
func (r *ReadThroughCache[K, V]) Invalidate(ctx context.Context, key K) {
	r.cache.Delete(ctx, key)
}
