// Package microcache provides a bounded in-memory cache with a fixed
// per-entry time-to-live and least-recently-used eviction.
//
// The same type backs the page-level microcache (small, ~1s TTL) and the
// bundle renderer's fragment cache (larger, minutes). Instances share no state.
package microcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/briangreenhill/inkpot/internal/clock"
)

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum number of entries. Values below 1 are treated as 1.
	Capacity int
	// TTL is how long an entry stays fresh after Set. Zero disables expiry.
	TTL time.Duration
	// Clock defaults to the system clock.
	Clock clock.Clock
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// Reader reads fresh entries.
type Reader[K comparable, V any] interface {
	// Get returns the value and true if present and not expired.
	Get(key K) (V, bool)
}

// Writer stores entries.
type Writer[K comparable, V any] interface {
	Set(key K, value V)
}

// ReadWriter combines both cache operations.
type ReadWriter[K comparable, V any] interface {
	Reader[K, V]
	Writer[K, V]
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// Cache is a size-bounded LRU with a fixed TTL. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    clock.Clock
	order    *list.List // front = most recently used
	items    map[K]*list.Element
	stats    Stats
}

var _ ReadWriter[string, []byte] = (*Cache[string, []byte])(nil)

// New creates an empty cache.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Cache[K, V]{
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		clock:    opts.Clock,
		order:    list.New(),
		items:    make(map[K]*list.Element, opts.Capacity),
	}
}

// Get returns the cached value if present and fresh. A hit marks the entry as
// most recently used. Expired entries are dropped on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.remove(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set inserts or overwrites key, resetting its age, and evicts the least
// recently used entries while the cache is over capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.storedAt = now
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: now})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
}

// Len returns the number of stored entries, including expired ones that
// have not been accessed since they expired.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge removes every entry. Counters are kept.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

// Stats returns a copy of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && c.clock.Now().Sub(e.storedAt) > c.ttl
}

func (c *Cache[K, V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}
