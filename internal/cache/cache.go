// Package cache is a small byte cache with memory and Redis backends, used to
// throttle outbound price-feed calls.
package cache

import (
	"context"
	"time"
)

// Store is a TTL byte cache.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
