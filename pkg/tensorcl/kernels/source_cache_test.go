package kernels

import (
	"testing"
	"time"
)

func TestSourceCachePutGet(t *testing.T) {
	c := NewSourceCache(4, 0)
	key := c.Key("add")
	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(key, "kernel source")
	src, ok := c.Get(key)
	if !ok || src != "kernel source" {
		t.Fatalf("Get = %q, %v; want %q, true", src, ok, "kernel source")
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestSourceCacheTTLExpiry(t *testing.T) {
	c := NewSourceCache(4, time.Millisecond)
	key := c.Key("sub")
	c.Put(key, "source")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected entry to expire after TTL")
	}
}

func TestSourceCacheLRUEviction(t *testing.T) {
	c := NewSourceCache(2, 0)
	kA := c.Key("add")
	kB := c.Key("sub")
	kC := c.Key("mul")

	c.Put(kA, "a")
	c.Put(kB, "b")
	// touch a so b becomes least-recently-used
	c.Get(kA)
	c.Put(kC, "c")

	if _, ok := c.Get(kB); ok {
		t.Error("expected b to be evicted as least-recently-used")
	}
	if _, ok := c.Get(kA); !ok {
		t.Error("expected a to survive eviction")
	}
	if _, ok := c.Get(kC); !ok {
		t.Error("expected c to be present")
	}
}

func TestSourceCacheDefaultsMaxSize(t *testing.T) {
	c := NewSourceCache(0, 0)
	if c.maxSize != 64 {
		t.Errorf("maxSize = %d, want 64 default", c.maxSize)
	}
}
