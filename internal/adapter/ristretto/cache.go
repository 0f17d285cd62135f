// Package ristretto implements the cache port using dgraph-io/ristretto as
// the in-process cache for rendered conversation transcripts.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// A transcript averages well under a kilobyte, so counter sizing assumes
// roughly that many tracked keys per megabyte of budget.
const countersPerByte = 10.0 / 1024

// Cache caches conversation transcripts in process memory, bounded by total
// byte cost rather than entry count.
type Cache struct {
	c *ristretto.Cache[string, string]
}

// New creates a transcript cache holding at most maxCostBytes of content.
func New(maxCostBytes int64) (*Cache, error) {
	counters := int64(float64(maxCostBytes) * countersPerByte)
	if counters < 1024 {
		counters = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached transcript for key.
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set stores a transcript, costed at its length in bytes.
func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops the transcript for key. Called on every conversation append.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
