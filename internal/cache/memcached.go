package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weatherdash:"

// MemcachedClient wraps a shared memcached connection pool. Typed Memcached
// stores are layered on top of one client so current and forecast payloads
// share connections.
type MemcachedClient struct {
	client *memcache.Client
}

// NewMemcachedClient creates a MemcachedClient. addrs is a comma-separated
// list (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns use package defaults when zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedClient, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedClient{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedClient) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedClient) Close() error {
	return c.client.Close()
}

// Memcached implements Store backed by memcached; values are JSON-encoded and
// expiry is enforced server-side, so the lazy-eviction semantics of InMemory
// hold here as well (an expired entry is simply a miss).
type Memcached[T any] struct {
	c *MemcachedClient
}

// NewMemcached creates a typed store over the shared client.
func NewMemcached[T any](c *MemcachedClient) *Memcached[T] {
	return &Memcached[T]{c: c}
}

// Get implements Store.Get. Returns false, nil on cache miss; false, err on
// transport or decode errors.
func (m *Memcached[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := m.c.client.Get(keyPrefix + key)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return zero, false, nil
		}
		return zero, false, err
	}
	var value T
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return zero, false, err
	}
	return value, true, nil
}

// Set implements Store.Set.
func (m *Memcached[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 300
	}
	return m.c.client.Set(&memcache.Item{
		Key:        keyPrefix + key,
		Value:      raw,
		Expiration: expSec,
	})
}
