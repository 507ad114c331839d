// Package cache provides the TTL key/value store used to front the object
// store and to hold chat transcripts. Values are opaque bytes; helpers encode
// JSON and coalesce concurrent misses for the same key.
package cache

import (
	"context"
	"time"
)

// Cache is a shared key/value store with per-entry expiry.
// A missing or expired key is reported as (nil, false, nil), never as an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
