// Package dedupcache implements the in-process TTL+LRU cache fronting
// the document store for existence checks (spec §4.C). It is advisory
// only — the document store remains the source of truth — and is
// grounded on the sharded LRU+TTL cache pattern used elsewhere in the
// retrieved corpus's concurrency exercises, simplified here to a
// single mutex since the per-worker hit volume does not warrant
// sharding.
package dedupcache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	hash    string
	exists  bool
	expires time.Time
	elem    *list.Element
}

// Cache maps url_hash -> exists:bool with a TTL and an LRU bound.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*entry
	order   *list.List
	maxSize int
	ttl     time.Duration

	hits   uint64
	misses uint64
}

// New constructs a Cache with the given TTL and LRU bound. A
// non-positive ttl or maxSize falls back to the defaults named in
// §4.C (5 minutes, unbounded-in-practice 50k entries).
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &Cache{
		items:   make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Check returns the cached existence answer for hash, or (false,
// false) on a miss (expired, evicted, or never set).
func (c *Cache) Check(hash string) (exists bool, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[hash]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return false, false
	}
	if time.Now().After(e.expires) {
		c.removeLocked(e)
		atomic.AddUint64(&c.misses, 1)
		return false, false
	}

	c.order.MoveToFront(e.elem)
	atomic.AddUint64(&c.hits, 1)
	return e.exists, true
}

// Set records an existence result, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Set(hash string, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(hash, exists)
}

// SetMany records a batch of results, used after a batch_exists call
// (spec §4.C).
func (c *Cache) SetMany(results map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, exists := range results {
		c.setLocked(hash, exists)
	}
}

func (c *Cache) setLocked(hash string, exists bool) {
	if e, ok := c.items[hash]; ok {
		e.exists = exists
		e.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest.Value.(*entry))
		}
	}

	e := &entry{hash: hash, exists: exists, expires: time.Now().Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.items[hash] = e
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.hash)
	c.order.Remove(e.elem)
}

// Metrics returns cumulative hit/miss counters.
func (c *Cache) Metrics() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// Len reports the current number of live (not-yet-expired-checked)
// entries; expired entries are only reaped lazily on access.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
