package analysis

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"onebreath/pkg/domain"
)

// Default cache bounds.
const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 128
)

// Entry is one memoized summary.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cache holds at most one entry per fingerprint, evicting the least recently
// used entry when full. Entries older than the TTL are misses and are
// dropped on lookup.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, Entry]
	ttl   time.Duration
	clock domain.Clock
}

// NewCache builds a cache. Non-positive bounds fall back to the defaults and
// a nil clock uses the system clock.
func NewCache(capacity int, ttl time.Duration, clock domain.Clock) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	lru, err := simplelru.NewLRU[string, Entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru, ttl: ttl, clock: clock}, nil
}

// Get returns the entry for key if it is younger than the TTL.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	if c.clock.Now().Sub(entry.CreatedAt) >= c.ttl {
		c.lru.Remove(key)
		return Entry{}, false
	}
	return entry, true
}

// Put replaces any entry for key with content stamped at the current time.
func (c *Cache) Put(key, content string) Entry {
	entry := Entry{Fingerprint: key, Content: content, CreatedAt: c.clock.Now()}
	c.mu.Lock()
	c.lru.Add(key, entry)
	c.mu.Unlock()
	return entry
}

// Len reports the number of stored entries, including expired ones not yet looked up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }
