package analysis

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, capacity int, ttl time.Duration, clock *fakeClock) *Cache {
	t.Helper()
	c, err := NewCache(capacity, ttl, clock)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestCacheTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 4, time.Minute, clock)
	c.Put("k", "summary")

	clock.Advance(time.Minute - time.Nanosecond)
	if entry, ok := c.Get("k"); !ok || entry.Content != "summary" {
		t.Fatalf("expected hit just before expiry, got %+v %v", entry, ok)
	}

	clock.Advance(time.Nanosecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry aged exactly TTL must miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on lookup")
	}
}

func TestCachePutReplacesAndRestampsEntry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 4, time.Minute, clock)
	c.Put("k", "old")
	clock.Advance(50 * time.Second)
	c.Put("k", "new")
	clock.Advance(50 * time.Second)

	entry, ok := c.Get("k")
	if !ok {
		t.Fatalf("replacement should restart the freshness window")
	}
	if entry.Content != "new" || entry.Fingerprint != "k" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if c.Len() != 1 {
		t.Fatalf("expected one entry per key, got %d", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 2, time.Hour, clock)
	c.Put("a", "A")
	c.Put("b", "B")
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected hit for a")
	}
	c.Put("c", "C")

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b was least recently used and should be evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("expected %s to survive", key)
		}
	}
}

func TestCacheDefaultsAndPurge(t *testing.T) {
	c, err := NewCache(0, 0, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if c.TTL() != DefaultCacheTTL {
		t.Fatalf("expected default ttl, got %s", c.TTL())
	}
	for i := 0; i < DefaultCacheCapacity+10; i++ {
		c.Put(fmt.Sprintf("k%d", i), "v")
	}
	if c.Len() != DefaultCacheCapacity {
		t.Fatalf("expected capacity %d, got %d", DefaultCacheCapacity, c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("purge should empty the cache")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(t, 16, time.Minute, newFakeClock())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (i+j)%20)
				c.Put(key, key)
				if entry, ok := c.Get(key); ok && entry.Content != key {
					t.Errorf("key %s holds %q", key, entry.Content)
				}
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Fatalf("capacity exceeded: %d", c.Len())
	}
}
