package context

import (
	"container/list"
	"sync"
)

// DefaultCacheSize bounds the token count cache
const DefaultCacheSize = 4096

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// LRUCache is a size bounded least recently used cache safe for concurrent use
type LRUCache[K comparable, V any] struct {
	maxSize int
	items   map[K]*list.Element
	order   *list.List
	mu      sync.Mutex
	stats   CacheStats
}

// NewLRUCache creates a cache holding at most maxSize entries. A non-positive
// size falls back to DefaultCacheSize.
func NewLRUCache[K comparable, V any](maxSize int) *LRUCache[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &LRUCache[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		stats:   CacheStats{MaxSize: maxSize},
	}
}

// Get returns the cached value and marks it recently used
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return el.Value.(*cacheEntry[K, V]).value, true
}

// Set stores value, evicting the least recently used entry when full
func (c *LRUCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry[K, V]{key: key, value: value})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry[K, V]).key)
		c.stats.Evictions++
	}
}

// Len returns the number of entries
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes every entry and keeps the statistics
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Stats returns a snapshot of the cache statistics
func (c *LRUCache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.order.Len()
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
