package cache

import (
	"sync"
	"time"

	"github.com/spec-kit/support-bot/internal/clock"
)

// Observer receives cache hit/miss notifications.
type Observer interface {
	CacheLookup(hit bool)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded key/value store whose entries expire after a TTL.
// When full, Set evicts the entry closest to expiry rather than the least
// recently used one.
type TTLCache[V any] struct {
	mu         sync.Mutex
	items      map[string]entry[V]
	maxSize    int
	defaultTTL time.Duration
	clock      clock.Clock
	observer   Observer
}

// New creates a cache. maxSize <= 0 means unbounded.
func New[V any](maxSize int, defaultTTL time.Duration, clk clock.Clock) *TTLCache[V] {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &TTLCache[V]{
		items:      make(map[string]entry[V]),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		clock:      clock.OrReal(clk),
	}
}

// WithObserver attaches an observer and returns the cache.
func (c *TTLCache[V]) WithObserver(o Observer) *TTLCache[V] {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
	return c
}

// Get returns the value for key. Expired entries are removed and reported as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	if key == "" {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if ok && !c.clock.Now().Before(e.expiresAt) {
		delete(c.items, key)
		ok = false
	}
	if c.observer != nil {
		c.observer.CacheLookup(ok)
	}
	if !ok {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. ttl <= 0 uses the default TTL.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

// Update atomically replaces the value under key with fn(current, found).
// The entry's TTL is refreshed.
func (c *TTLCache[V]) Update(key string, ttl time.Duration, fn func(current V, found bool) V) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if ok && !c.clock.Now().Before(e.expiresAt) {
		delete(c.items, key)
		ok = false
	}
	c.setLocked(key, fn(e.value, ok), ttl)
}

func (c *TTLCache[V]) setLocked(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictSoonestLocked()
	}
	c.items[key] = entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

// evictSoonestLocked drops the single entry with the earliest expiry.
// A linear scan is fine at the configured sizes.
func (c *TTLCache[V]) evictSoonestLocked() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for k, e := range c.items {
		if !found || e.expiresAt.Before(earliest) {
			victim, earliest, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(c.items, victim)
	}
}

// Invalidate removes key.
func (c *TTLCache[V]) Invalidate(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *TTLCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// DeleteIf removes every entry for which pred returns true, plus any expired
// entries, and reports how many were removed. pred runs under the cache lock
// and must not call back into the cache.
func (c *TTLCache[V]) DeleteIf(pred func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) || pred(k, e.value) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
