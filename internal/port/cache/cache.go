// Package cache defines the port for the in-process cache.
package cache

import (
	"context"
	"time"
)

// Cache holds rendered conversation transcripts keyed by conversation, with
// TTL semantics. Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close()
}
