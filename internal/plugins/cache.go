package plugins

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache is a fixed capacity LRU cache. Entries never expire; the least
// recently used entry is evicted once the capacity is exceeded. Concurrent
// loads of the same key are collapsed into one.
type Cache[V comparable] struct {
	entries  map[string]*cacheEntry[V]
	mutex    sync.Mutex
	capacity int
	onEvict  func(key string, value V)
	group    singleflight.Group
	// LRU implementation
	head *cacheEntry[V]
	tail *cacheEntry[V]
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	loads     int64
	evictions int64
}

type cacheEntry[V comparable] struct {
	key   string
	value V
	// LRU doubly-linked list pointers
	prev *cacheEntry[V]
	next *cacheEntry[V]
}

// CacheStats holds cache counters.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Loads     int64 `json:"loads"`
	Evictions int64 `json:"evictions"`
}

// HitRate returns the fraction of lookups served from the cache.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewCache creates a cache holding at most capacity entries. onEvict, when
// set, is called for every value that leaves the cache.
func NewCache[V comparable](capacity int, onEvict func(key string, value V)) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache[V]{
		entries:  make(map[string]*cacheEntry[V]),
		capacity: capacity,
		onEvict:  onEvict,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	c.head = &cacheEntry[V]{}
	c.tail = &cacheEntry[V]{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get retrieves a value from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		var zero V
		return zero, false
	}

	c.moveToFront(entry)
	atomic.AddInt64(&c.hits, 1)
	return entry.value, true
}

// Set stores a value in the cache
func (c *Cache[V]) Set(key string, value V) {
	var evicted []*cacheEntry[V]

	c.mutex.Lock()
	if existing, exists := c.entries[key]; exists {
		if existing.value != value {
			old := *existing
			evicted = append(evicted, &old)
		}
		existing.value = value
		c.moveToFront(existing)
	} else {
		entry := &cacheEntry[V]{key: key, value: value}
		c.entries[key] = entry
		c.addToFront(entry)
		for len(c.entries) > c.capacity {
			lru := c.tail.prev
			c.removeFromList(lru)
			delete(c.entries, lru.key)
			atomic.AddInt64(&c.evictions, 1)
			evicted = append(evicted, lru)
		}
	}
	c.mutex.Unlock()

	// Callbacks run unlocked so they may close resources slowly.
	if c.onEvict != nil {
		for _, e := range evicted {
			c.onEvict(e.key, e.value)
		}
	}
}

// GetOrLoad returns the cached value for key or loads it. Concurrent callers
// for the same key share a single load; failed loads are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.mutex.Lock()
		entry, ok := c.entries[key]
		c.mutex.Unlock()
		if ok {
			return entry.value, nil
		}

		atomic.AddInt64(&c.loads, 1)
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Clear removes every entry, calling onEvict for each.
func (c *Cache[V]) Clear() {
	c.mutex.Lock()
	evicted := make([]*cacheEntry[V], 0, len(c.entries))
	for _, e := range c.entries {
		evicted = append(evicted, e)
	}
	c.entries = make(map[string]*cacheEntry[V])
	c.head.next = c.tail
	c.tail.prev = c.head
	c.mutex.Unlock()

	if c.onEvict != nil {
		for _, e := range evicted {
			c.onEvict(e.key, e.value)
		}
	}
}

// Stats returns the cache counters.
func (c *Cache[V]) Stats() CacheStats {
	return CacheStats{
		Entries:   c.Len(),
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Loads:     atomic.LoadInt64(&c.loads),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

// addToFront adds an entry to the front of the LRU list
func (c *Cache[V]) addToFront(entry *cacheEntry[V]) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

// removeFromList removes an entry from the LRU list
func (c *Cache[V]) removeFromList(entry *cacheEntry[V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

// moveToFront moves an entry to the front of the LRU list
func (c *Cache[V]) moveToFront(entry *cacheEntry[V]) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
