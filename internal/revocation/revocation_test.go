package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

type fakeStore struct {
	revoked map[string]bool
	err     error
	calls   int
}

func (f *fakeStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

func TestIsRevokedCachesPositiveAndNegativeResults(t *testing.T) {
	store := &fakeStore{revoked: map[string]bool{"jti-1": true}}
	c := New(store, logr.Discard())

	if !c.IsRevoked(context.Background(), "jti-1") {
		t.Fatalf("expected jti-1 to be revoked")
	}
	if c.IsRevoked(context.Background(), "jti-2") {
		t.Fatalf("expected jti-2 to be clean")
	}
	if store.calls != 2 {
		t.Fatalf("store.calls = %d, want 2", store.calls)
	}

	// Second lookups should hit the cache, not the store.
	c.IsRevoked(context.Background(), "jti-1")
	c.IsRevoked(context.Background(), "jti-2")
	if store.calls != 2 {
		t.Fatalf("store.calls after cache hits = %d, want still 2", store.calls)
	}
}

// TestFailClosedWithoutCacheEntry mirrors testable property 9.
func TestFailClosedWithoutCacheEntry(t *testing.T) {
	store := &fakeStore{err: errors.New("db unreachable")}
	c := New(store, logr.Discard())

	if !c.IsRevoked(context.Background(), "jti-unknown") {
		t.Fatalf("expected fail-closed (revoked=true) when store is down and no cache entry exists")
	}
}

func TestStaleCacheServedOnStoreOutage(t *testing.T) {
	now := time.Now()
	clock := now
	store := &fakeStore{revoked: map[string]bool{"jti-1": false}}
	c := New(store, logr.Discard(), withClock(func() time.Time { return clock }))

	if c.IsRevoked(context.Background(), "jti-1") {
		t.Fatalf("expected jti-1 initially clean")
	}

	store.err = errors.New("db unreachable")
	clock = now.Add(5 * time.Second) // still within TTL
	if c.IsRevoked(context.Background(), "jti-1") {
		t.Fatalf("expected cached clean result to still serve during outage within TTL")
	}
}

func TestTTLExpiryForcesRecheck(t *testing.T) {
	now := time.Now()
	clock := now
	store := &fakeStore{revoked: map[string]bool{"jti-1": false}}
	c := New(store, logr.Discard(), WithTTL(time.Second), withClock(func() time.Time { return clock }))

	c.IsRevoked(context.Background(), "jti-1")
	store.revoked["jti-1"] = true
	clock = now.Add(2 * time.Second)

	if !c.IsRevoked(context.Background(), "jti-1") {
		t.Fatalf("expected re-check after TTL expiry to pick up new revoked=true")
	}
}
