// Package common holds small data structures shared by more than one
// Axiom component: bounded caches, test helpers, and the like.
package common

import (
	"container/list"
	"sync"
	"time"
)

// TTLCache is a fixed-capacity, time-expiring least-recently-used cache
// of string keys. It backs the gossip layer's duplicate-suppression
// table (type,hash).
type TTLCache struct {
	mu       sync.Mutex
	size     int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List
}

type ttlEntry struct {
	key       string
	expiresAt time.Time
}

// NewTTLCache creates a cache holding at most size entries, each valid
// for ttl after insertion. A zero ttl means entries never expire on
// their own (only eviction by size pressure applies).
func NewTTLCache(size int, ttl time.Duration) *TTLCache {
	return &TTLCache{
		size:    size,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Seen reports whether key was already present and not expired, and
// records it (refreshing its expiry) regardless.
func (c *TTLCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*ttlEntry)
		if c.ttl == 0 || time.Now().Before(entry.expiresAt) {
			c.order.MoveToFront(el)
			entry.expiresAt = c.expiry()
			return true
		}
		// expired: treat as new
		c.order.Remove(el)
		delete(c.entries, key)
	}

	el := c.order.PushFront(&ttlEntry{key: key, expiresAt: c.expiry()})
	c.entries[key] = el

	for c.order.Len() > c.size {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*ttlEntry).key)
	}

	return false
}

func (c *TTLCache) expiry() time.Time {
	if c.ttl == 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

// Remove evicts key from the cache if present.
func (c *TTLCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len reports the current number of entries, including any that have
// expired but not yet been evicted by a Seen call.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
