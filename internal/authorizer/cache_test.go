package authorizer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCacheKeyFingerprintsToken(t *testing.T) {
	k1 := CacheKey("token-a", "users", "list")
	k2 := CacheKey("token-b", "users", "list")
	if k1 == k2 {
		t.Fatal("different tokens must not share a key")
	}
	if strings.Contains(k1, "token-a") {
		t.Fatal("raw token leaked into the cache key")
	}
	if CacheKey("token-a", "users", "read") == k1 {
		t.Fatal("different actions must not share a key")
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1_756_000_000, 0)
	c.nowF = func() time.Time { return now }

	key := CacheKey("tok", "users", "list")
	c.Set(ctx, key, "u1", &Decision{Allow: true, Reason: ReasonGranted}, 5*time.Second)

	got, ok := c.Get(ctx, key)
	if !ok || !got.Allow {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	now = now.Add(6 * time.Second)
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("entry should have expired")
	}
}

func TestMemoryCacheInvalidateUser(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	k1 := CacheKey("tok1", "users", "list")
	k2 := CacheKey("tok1", "users", "read")
	k3 := CacheKey("tok2", "users", "list")
	c.Set(ctx, k1, "u1", &Decision{Allow: true, Reason: ReasonGranted}, time.Minute)
	c.Set(ctx, k2, "u1", &Decision{Allow: false, Reason: ReasonNotGranted}, time.Minute)
	c.Set(ctx, k3, "u2", &Decision{Allow: true, Reason: ReasonGranted}, time.Minute)

	if err := c.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, k1); ok {
		t.Fatal("u1 entry survived invalidation")
	}
	if _, ok := c.Get(ctx, k2); ok {
		t.Fatal("u1 deny entry survived invalidation")
	}
	if _, ok := c.Get(ctx, k3); !ok {
		t.Fatal("u2 entry should survive u1 invalidation")
	}
}

func TestMemoryCacheZeroTTLNotStored(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := CacheKey("tok", "users", "list")
	c.Set(ctx, key, "u1", &Decision{Allow: true, Reason: ReasonGranted}, 0)
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("zero ttl should disable caching")
	}
}
