// Package cachemanager provides typed TTL caches over go-cache. Jobs use it
// to keep terminal snapshots pollable for a retention window, and the HTTP
// layer uses a read-through cache for provider availability probes.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a typed key/value cache with per-entry TTL.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	// Items returns a copy of every unexpired entry.
	Items(ctx context.Context) map[K]V
	Count() int
	Flush(ctx context.Context)
}
