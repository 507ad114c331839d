package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds a shared load when no timeout is configured.
const DefaultLoadTimeout = 30 * time.Second

// Loader reads through a Cache, calling a load function on miss. Concurrent
// misses for the same key share one load.
type Loader struct {
	cache       Cache
	group       singleflight.Group
	loadTimeout time.Duration
}

type LoaderOption func(*Loader)

// WithLoadTimeout bounds each shared load independently of its callers.
func WithLoadTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.loadTimeout = d
		}
	}
}

func NewLoader(c Cache, opts ...LoaderOption) (*Loader, error) {
	if c == nil {
		return nil, errors.New("cache: cache must not be nil")
	}
	l := &Loader{cache: c, loadTimeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Fetch returns the cached JSON value for key, or loads, stores and returns it.
// Cache read and write failures degrade to a load and are only logged. Load
// errors are returned unchanged and never cached.
//
// A shared load runs detached from any single caller's cancellation, bounded
// by the loader's timeout. Each caller still stops waiting when its own ctx ends.
func Fetch[T any](ctx context.Context, l *Loader, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := GetJSON[T](ctx, l.cache, key); ok {
		return v, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()

		// A concurrent flight may have filled the key since our read.
		if v, ok := GetJSON[T](loadCtx, l.cache, key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := SetJSON(loadCtx, l.cache, key, v, ttl); err != nil {
			slog.WarnContext(loadCtx, "cache write failed", "key", key, "error", err)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: unexpected value type %T for key %q", res.Val, key)
		}
		return v, nil
	}
}

// GetJSON decodes the value at key. Read failures and undecodable values are
// logged and reported as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	data, ok, err := c.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		slog.WarnContext(ctx, "cache value undecodable", "key", key, "error", err)
		return v, false
	}
	return v, true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
