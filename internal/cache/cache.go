package cache

import (
	"context"
	"sync"
	"time"
)

// Store defines the TTL cache contract gating the remote weather client.
// Get returns the cached value only while its TTL window holds; Set always
// overwrites, restamping the entry.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
}

// InMemory implements Store using a map with TTL-based expiration. Expired
// entries are removed lazily on the next Get; there is no background sweep and
// no capacity bound. The key space is the set of cities a user tracks.
type InMemory[T any] struct {
	mu   sync.Mutex
	data map[string]entry[T]
	now  func() time.Time
}

// entry stores a cached value with its expiration timestamp.
type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// NewInMemory creates an in-memory store using the wall clock.
func NewInMemory[T any]() *InMemory[T] {
	return NewInMemoryWithClock[T](time.Now)
}

// NewInMemoryWithClock creates an in-memory store with an injected clock so
// tests can drive expiry deterministically.
func NewInMemoryWithClock[T any](now func() time.Time) *InMemory[T] {
	return &InMemory[T]{
		data: make(map[string]entry[T]),
		now:  now,
	}
}

// Get retrieves the cached value for key if present and not expired.
// Returns (value, true, nil) on hit, (zero, false, nil) on miss or expiry.
// Expired entries are deleted on access.
func (c *InMemory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.data, key)
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL, overwriting any prior entry.
func (c *InMemory[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = entry[T]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}
