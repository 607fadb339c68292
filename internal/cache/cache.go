// Package cache stores encoded find results. Entries are addressed by key and
// invalidated wholesale per collection through generation counters.
package cache

import (
	"context"
	"time"
)

// Cache is a byte cache with per-name generation counters.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Generation returns the current generation of name, 0 when never bumped.
	Generation(ctx context.Context, name string) (uint64, error)
	// Bump advances the generation of name, orphaning keys built from the old one.
	Bump(ctx context.Context, name string) error
}
