// Package cache defines the store abstraction the tile orchestrator caches
// rendered tiles behind. Two implementations exist: an in-process map
// (memstore) and a shared Redis store (redisstore). Store errors are never
// fatal to a request; callers treat a failed Get as a miss and a failed Set
// as a no-op.
package cache

import (
	"context"
	"time"
)

type Stats struct {
	Hits   uint64
	Misses uint64
}

type Store interface {
	// Get returns the cached payload and whether it was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores payload under key for ttl. A ttl of zero means the
	// store's default.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// DeleteByPrefix removes every entry whose key starts with prefix.
	// Used by the invalidation consumer, never on the request path.
	DeleteByPrefix(ctx context.Context, prefix string) error
	Stats() Stats
}
