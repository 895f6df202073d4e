// Package frontend implements the client-facing router: a small LRU cache of
// product lookups and the forwarding logic that tracks the order leader.
package frontend

import (
	"encoding/json"

	"github.com/BoddyShen/raft-order-service/pkg/rwlock"
)

// DefaultCacheSize is how many product entries the router keeps.
const DefaultCacheSize = 5

type cacheEntry struct {
	name    string
	payload json.RawMessage
}

// Cache is an LRU of product payloads keyed by product name. Entries are
// kept oldest first; a hit moves the entry to the back, an insert past
// capacity evicts the front.
type Cache struct {
	lock     *rwlock.Lock
	entries  []cacheEntry
	capacity int
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		lock:     rwlock.New(),
		capacity: capacity,
	}
}

// Get returns the cached payload for name and refreshes its recency.
func (c *Cache) Get(name string) (json.RawMessage, bool) {
	c.lock.RLock()
	_, found := c.find(name)
	c.lock.RUnlock()
	if !found {
		return nil, false
	}

	// Recency update needs the write side; re-read under it so an
	// invalidation that lands in between is a miss, not a stale hit.
	c.lock.Lock()
	defer c.lock.Unlock()
	payload, still := c.find(name)
	if !still {
		return nil, false
	}
	c.touch(name)
	return payload, true
}

// Put inserts or refreshes an entry, evicting the least recently used one
// when full.
func (c *Cache) Put(name string, payload json.RawMessage) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, found := c.find(name); found {
		c.remove(name)
	}
	c.entries = append(c.entries, cacheEntry{name: name, payload: payload})
	if len(c.entries) > c.capacity {
		c.entries = c.entries[1:]
	}
}

// Invalidate drops the entry for name. Idempotent.
func (c *Cache) Invalidate(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.remove(name)
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.entries)
}

// Names returns the cached product names, oldest first.
func (c *Cache) Names() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.name
	}
	return out
}

func (c *Cache) find(name string) (json.RawMessage, bool) {
	for _, e := range c.entries {
		if e.name == name {
			return e.payload, true
		}
	}
	return nil, false
}

func (c *Cache) touch(name string) {
	for i, e := range c.entries {
		if e.name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			c.entries = append(c.entries, e)
			return
		}
	}
}

func (c *Cache) remove(name string) {
	for i, e := range c.entries {
		if e.name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}
