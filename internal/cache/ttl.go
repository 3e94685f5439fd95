// Package cache holds the short-lived fetch cache: a key -> (value, expiry) map
// with per-key locking and an injectable clock.
package cache

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Entry is a cached value with its expiry
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// IsStale reports whether the entry has expired at now
func (e Entry[V]) IsStale(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Loader produces a fresh value on a miss
type Loader[V any] func(ctx context.Context) (V, error)

// TTLCache is a concurrency-safe TTL map. Loads for the same key are serialized,
// so concurrent misses on one key hit the upstream once.
type TTLCache[V any] struct {
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[string]Entry[V]
	locks   *keyLocks
}

// NewTTLCache creates a cache; a nil clock uses the system clock
func NewTTLCache[V any](ttl time.Duration, clock Clock) *TTLCache[V] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TTLCache[V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]Entry[V]),
		locks:   newKeyLocks(),
	}
}

// TTL returns the configured time-to-live
func (c *TTLCache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns a fresh value for key
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.IsStale(c.clock.Now()) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key for one TTL
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{Value: value, ExpiresAt: c.clock.Now().Add(c.ttl)}
}

// GetOrLoad returns the cached value or calls load under the key's lock.
// The bool reports a cache hit. Errors from load are not cached.
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	unlock, err := c.locks.lock(ctx, key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	defer unlock()

	// another caller may have filled it while we waited
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.Set(key, v)
	return v, false, nil
}

// Purge drops stale entries and returns how many were removed
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if e.IsStale(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, stale or not
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keyLocks hands out one context-aware mutex per key, dropped when unused
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	return func() {
		<-l.ch
		k.release(key, l)
	}, nil
}

func (k *keyLocks) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
