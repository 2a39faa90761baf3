package cache

import (
	"strconv"
	"testing"
	"time"
)

// newTestCache builds a cache with the sweeper effectively disabled and a
// controllable clock.
func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *time.Time) {
	t.Helper()
	c := New(ttl, time.Hour)
	t.Cleanup(c.Close)

	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestKey_Deterministic(t *testing.T) {
	body := map[string]any{"b": 2, "a": 1}
	k1 := Key("get", "/products?page=1", body)
	k2 := Key("GET", "/products?page=1", map[string]any{"a": 1, "b": 2})
	if k1 != k2 {
		t.Fatalf("expected identical keys, got %q vs %q", k1, k2)
	}
}

func TestKey_DistinguishesMethodEndpointBody(t *testing.T) {
	base := Key("GET", "/products", nil)
	if k := Key("POST", "/products", nil); k == base {
		t.Fatalf("method must be part of the key")
	}
	if k := Key("GET", "/orders", nil); k == base {
		t.Fatalf("endpoint must be part of the key")
	}
	if k := Key("GET", "/products", map[string]int{"page": 2}); k == base {
		t.Fatalf("body must be part of the key")
	}
}

func TestKey_UnserializableBodyDegrades(t *testing.T) {
	k := Key("GET", "/products", func() {})
	if k != "GET /products" {
		t.Fatalf("expected degraded key, got %q", k)
	}
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("k", []byte("v"), 0)
	v, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(v.([]byte)) != "v" {
		t.Fatalf("expected v, got %v", v)
	}
}

func TestCache_ExpiredEntryIsMissAndDeleted(t *testing.T) {
	c, now := newTestCache(t, 100*time.Millisecond)

	c.Set("k", "v", 0)
	*now = now.Add(101 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry deleted on read, len=%d", c.Len())
	}
}

func TestCache_PerEntryTTLOverridesDefault(t *testing.T) {
	c, now := newTestCache(t, time.Minute)

	c.Set("short", "v", 10*time.Millisecond)
	c.Set("long", "v", 0)
	*now = now.Add(time.Second)

	if _, ok := c.Get("short"); ok {
		t.Fatalf("expected short entry expired")
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatalf("expected long entry alive")
	}
}

func TestCache_SetOverwrites(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("k", "old", 0)
	c.Set("k", "new", 0)
	v, _ := c.Get("k")
	if v != "new" {
		t.Fatalf("expected overwrite, got %v", v)
	}
}

func TestCache_DeletePrefix(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	for i := 0; i < 5; i++ {
		c.Set("coupon:"+strconv.Itoa(i), i, 0)
	}
	c.Set("GET /products", "page", 0)

	c.DeletePrefix("coupon:")

	if c.Len() != 1 {
		t.Fatalf("expected only the non-prefixed entry left, len=%d", c.Len())
	}
	if _, ok := c.Get("GET /products"); !ok {
		t.Fatalf("unrelated entry must survive prefix delete")
	}
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", c.Len())
	}
}

func TestCache_SweepCollectsExpired(t *testing.T) {
	c := New(10*time.Millisecond, 20*time.Millisecond)
	defer c.Close()

	c.Set("k", "v", 0)
	deadline := time.After(2 * time.Second)
	for c.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("sweeper did not collect expired entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, time.Hour)
	c.Close()
	c.Close()

	// still usable after Close, just without sweeping
	c.Set("k", "v", 0)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("cache must remain usable after Close")
	}
}
