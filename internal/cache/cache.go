// Package cache holds a single value recomputed at most once per TTL.
package cache

import (
	"context"
	"sync"
	"time"
)

// Producer computes a fresh value.
type Producer[T any] func(ctx context.Context) (T, error)

// TimedCache memoises the last producer result, value or error, for ttl.
// Concurrent readers share the cached result; a stale entry is recomputed
// under the write lock after a second staleness check, so callers racing on
// the same stale entry trigger one recomputation between them.
type TimedCache[T any] struct {
	produce Producer[T]
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	value   T
	err     error
	updated time.Time
	filled  bool
}

// Option configures a TimedCache.
type Option[T any] func(*TimedCache[T])

// WithClock replaces time.Now.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *TimedCache[T]) {
		c.now = now
	}
}

func New[T any](ttl time.Duration, produce Producer[T], opts ...Option[T]) *TimedCache[T] {
	c := &TimedCache[T]{produce: produce, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached result while it is fresh. A cached error is
// returned as-is until it expires.
func (c *TimedCache[T]) Get(ctx context.Context) (T, error) {
	return c.get(ctx, false)
}

// TryGet is Get, except that a cached error counts as stale and is retried
// right away.
func (c *TimedCache[T]) TryGet(ctx context.Context) (T, error) {
	return c.get(ctx, true)
}

func (c *TimedCache[T]) get(ctx context.Context, retryErrors bool) (T, error) {
	c.mu.RLock()
	if c.fresh(retryErrors) {
		value, err := c.value, c.err
		c.mu.RUnlock()
		return value, err
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh(retryErrors) {
		return c.value, c.err
	}

	value, err := c.produce(ctx)
	c.value, c.err = value, err
	c.updated = c.now()
	c.filled = true
	return value, err
}

// Invalidate drops the cached result.
func (c *TimedCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value, c.err, c.filled = zero, nil, false
}

// fresh must be called with c.mu held.
func (c *TimedCache[T]) fresh(retryErrors bool) bool {
	if !c.filled {
		return false
	}
	if retryErrors && c.err != nil {
		return false
	}
	return c.now().Before(c.updated.Add(c.ttl))
}
