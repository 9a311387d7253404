// Package revocation implements a process-local, TTL-bounded token
// revocation cache with a fail-closed contract on persistence outage.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// DefaultTTL is how long a cached result is trusted before re-checking the
// backing store.
const DefaultTTL = 30 * time.Second

// DefaultMaxEntries bounds the cache's memory footprint.
const DefaultMaxEntries = 10_000

// Store looks up whether a jti has been revoked in durable storage.
type Store interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type entry struct {
	revoked   bool
	cachedAt  time.Time
}

// Cache is the in-process revocation cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	store      Store
	log        logr.Logger
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default TTL.
func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

// WithMaxEntries overrides the default capacity.
func WithMaxEntries(n int) Option { return func(c *Cache) { c.maxEntries = n } }

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New builds a Cache backed by store.
func New(store Store, log logr.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:    map[string]entry{},
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		store:      store,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRevoked reports whether jti is revoked, honoring the TTL cache and
// failing closed (returning true) when the store is unreachable and there
// is no usable cached value.
func (c *Cache) IsRevoked(ctx context.Context, jti string) bool {
	c.mu.Lock()
	if e, ok := c.entries[jti]; ok && c.now().Sub(e.cachedAt) <= c.ttl {
		c.mu.Unlock()
		return e.revoked
	}
	c.mu.Unlock()

	revoked, err := c.store.IsRevoked(ctx, jti)
	if err != nil {
		c.mu.Lock()
		e, ok := c.entries[jti]
		c.mu.Unlock()
		if ok {
			c.log.Info("revocation store unavailable, serving stale cache entry", "jti", jti)
			return e.revoked
		}
		c.log.Error(err, "revocation store unavailable, no cached entry: failing closed", "jti", jti)
		return true
	}

	c.set(jti, revoked)
	return revoked
}

func (c *Cache) set(jti string, revoked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()
	if len(c.entries) >= c.maxEntries {
		// At capacity even after eviction: refuse to grow further. The
		// fail-closed contract on the read path means new jtis simply miss
		// cache rather than corrupt existing entries.
		return
	}
	c.entries[jti] = entry{revoked: revoked, cachedAt: c.now()}
}

func (c *Cache) evictExpiredLocked() {
	now := c.now()
	for jti, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, jti)
		}
	}
}

// Len returns the current entry count, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
