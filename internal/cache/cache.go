// Package cache implements the L1 memory cache from spec.md §4.2: a
// sub-millisecond keyed lookup of prior validation decisions with hot-entry
// promotion and a Bloom-filter fast-negative path.
//
// It generalizes the teacher's generic TTL map into a single
// capabilities-configured cache rather than a family of "basic" vs
// "optimized" variants (spec.md §9's note on collapsing cache
// inheritance hierarchies).
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

// Capabilities toggles the optional features of the cache: the Bloom
// filter fast-negative path and hot-entry promotion. The dispatcher's L1
// decision cache turns both on.
type Capabilities struct {
	Bloom  bool
	HotSet bool
}

// Stats reports cumulative counters for observability (debug/cache_stats.json).
type Stats struct {
	Hits          int64
	Misses        int64
	BloomRejects  int64
	Evictions     int64
	HotPromotions int64
}

// Cache is a thread-safe, bounded, TTL-aware cache of model.Result keyed by
// fingerprint, guarded by a single RWMutex (coarse exclusion, permitted
// by spec.md §5). Only Get's Bloom-filter check and the read-only
// accessors take the read lock; the lookup in Get takes the write lock,
// since a hit updates LRU order and access counters.
type Cache struct {
	mu sync.RWMutex

	capacity     int
	hotThreshold int
	caps         Capabilities

	order   *list.List               // front = most recently used
	entries map[string]*list.Element // fingerprint -> node in order
	hot     map[string]*model.CacheEntry

	filter *bloom
	stats  Stats
}

type node struct {
	key   string
	entry model.CacheEntry
}

// New builds an L1 cache with the given max entry count. Per spec.md §4.2,
// the Bloom filter is sized to ~2x capacity at a 1% target false-positive
// rate.
func New(capacity int, caps Capabilities) *Cache {
	if capacity <= 0 {
		capacity = 10_000
	}
	c := &Cache{
		capacity:     capacity,
		hotThreshold: model.DefaultHotThreshold,
		caps:         caps,
		order:        list.New(),
		entries:      make(map[string]*list.Element, capacity),
		hot:          make(map[string]*model.CacheEntry),
	}
	if caps.Bloom {
		c.filter = newBloom(capacity*2, 0.01)
	}
	return c
}

// Get returns the cached result for a fingerprint iff present and not
// expired. A hit updates LRU position and the access counter, and may
// promote the entry into the hot set. Cache errors never propagate: the
// Bloom fast-path and every map lookup below degrade to a miss rather than
// surfacing a failure to the dispatcher.
func (c *Cache) Get(key string) (model.Result, bool) {
	if c.caps.Bloom {
		c.mu.RLock()
		might := c.filter.mightContain(key)
		c.mu.RUnlock()
		if !might {
			c.mu.Lock()
			c.stats.BloomRejects++
			c.stats.Misses++
			c.mu.Unlock()
			return model.Result{}, false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if hotEntry, ok := c.hot[key]; ok {
		if hotEntry.Expired(now) {
			delete(c.hot, key)
			c.stats.Misses++
			return model.Result{}, false
		}
		hotEntry.AccessCount++
		hotEntry.LastAccess = now
		c.stats.Hits++
		return hotEntry.Result, true
	}

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return model.Result{}, false
	}
	n := el.Value.(*node)
	if n.entry.Expired(now) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.stats.Misses++
		return model.Result{}, false
	}

	n.entry.AccessCount++
	n.entry.LastAccess = now
	c.order.MoveToFront(el)
	c.stats.Hits++

	if c.caps.HotSet && n.entry.Hot(c.hotThreshold) {
		c.promoteLocked(key, n.entry)
	}

	return n.entry.Result, true
}

// promoteLocked moves key into the hot set, bounding it at c.capacity
// the same way the LRU list is bounded in Set/evictLocked: promoting
// into a full hot set first demotes its least-recently-accessed entry.
func (c *Cache) promoteLocked(key string, entry model.CacheEntry) {
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	if _, already := c.hot[key]; !already && len(c.hot) >= c.capacity {
		c.demoteOldestHotLocked()
	}
	c.hot[key] = &entry
	c.stats.HotPromotions++
}

// demoteOldestHotLocked drops the least-recently-accessed hot entry.
// Must be called with c.mu held.
func (c *Cache) demoteOldestHotLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.hot {
		if oldestKey == "" || e.LastAccess.Before(oldest) {
			oldestKey = k
			oldest = e.LastAccess
		}
	}
	if oldestKey != "" {
		delete(c.hot, oldestKey)
	}
}

// Set inserts or overwrites a cache entry. On size overflow it evicts the
// least-recently-used non-hot entry; if every entry is hot, the
// least-recently-accessed hot entry is demoted then evicted, per
// spec.md §4.2.
func (c *Cache) Set(key string, result model.Result, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry := model.CacheEntry{Result: result, CreatedAt: now, TTL: ttl, AccessCount: 0, LastAccess: now}

	switch {
	case c.hotIsSet(key):
		c.hot[key] = &entry
	case c.entries[key] != nil:
		el := c.entries[key]
		el.Value.(*node).entry = entry
		c.order.MoveToFront(el)
	default:
		if c.order.Len() >= c.capacity {
			c.evictLocked()
		}
		el := c.order.PushFront(&node{key: key, entry: entry})
		c.entries[key] = el
	}

	if c.caps.Bloom {
		c.filter.add(key)
	}
}

func (c *Cache) hotIsSet(key string) bool {
	_, ok := c.hot[key]
	return ok
}

// evictLocked drops the least-recently-used non-hot entry. If the LRU list
// is empty (every entry lives in the hot set), it demotes the
// least-recently-accessed hot entry and drops it instead. Must be called
// with c.mu held.
func (c *Cache) evictLocked() {
	if back := c.order.Back(); back != nil {
		n := back.Value.(*node)
		c.order.Remove(back)
		delete(c.entries, n.key)
		c.stats.Evictions++
		return
	}

	if len(c.hot) == 0 {
		return
	}
	c.demoteOldestHotLocked()
	c.stats.Evictions++
}

// Invalidate removes every entry whose key contains the given substring.
func (c *Cache) Invalidate(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.entries {
		if strings.Contains(key, substr) {
			c.order.Remove(el)
			delete(c.entries, key)
		}
	}
	for key := range c.hot {
		if strings.Contains(key, substr) {
			delete(c.hot, key)
		}
	}
}

// Clear empties the cache and resets the Bloom filter.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = list.New()
	c.entries = make(map[string]*list.Element, c.capacity)
	c.hot = make(map[string]*model.CacheEntry)
	if c.caps.Bloom {
		c.filter.reset()
	}
}

// Len returns the total number of live entries (LRU + hot).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len() + len(c.hot)
}

// StatsSnapshot returns a copy of the cumulative counters.
func (c *Cache) StatsSnapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
