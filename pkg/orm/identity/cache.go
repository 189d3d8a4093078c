// Package identity provides the in-process identity cache: at most one live
// record reference per (entity, identifier) pair. The cache is not authoritative
// for existence; the database is.
package identity

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCapacity bounds the number of live references kept per entity
const DefaultCapacity = 10000

// Key identifies a cached record
type Key struct {
	Entity string
	ID     int64
}

// Cache maps (entity, identifier) to the live record reference
type Cache struct {
	capacity int
	entities map[string]*lru.Cache
	mu       sync.RWMutex
}

// New creates a cache holding at most capacity records per entity.
// A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entities: make(map[string]*lru.Cache),
	}
}

// Put stores the live reference of a record, replacing any previous entry for the same key.
// Records without an identifier are not cached.
func (c *Cache) Put(entity string, id int64, record any) {
	if id == 0 || record == nil {
		return
	}
	c.bucket(entity, true).Add(id, record)
}

// Get returns the cached reference for a key
func (c *Cache) Get(entity string, id int64) (any, bool) {
	b := c.bucket(entity, false)
	if b == nil {
		return nil, false
	}
	return b.Get(id)
}

// Contains reports whether a key is cached without touching its recency
func (c *Cache) Contains(entity string, id int64) bool {
	b := c.bucket(entity, false)
	return b != nil && b.Contains(id)
}

// Remove evicts a key and reports whether it was present
func (c *Cache) Remove(entity string, id int64) bool {
	b := c.bucket(entity, false)
	if b == nil {
		return false
	}
	return b.Remove(id)
}

// Count returns the number of cached records of an entity
func (c *Cache) Count(entity string) int {
	b := c.bucket(entity, false)
	if b == nil {
		return 0
	}
	return b.Len()
}

// Keys returns the cached identifiers of an entity in ascending order
func (c *Cache) Keys(entity string) []int64 {
	b := c.bucket(entity, false)
	if b == nil {
		return nil
	}
	keys := b.Keys()
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.(int64))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear empties the cache for every entity
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entities = make(map[string]*lru.Cache)
}

func (c *Cache) bucket(entity string, create bool) *lru.Cache {
	c.mu.RLock()
	b, ok := c.entities[entity]
	c.mu.RUnlock()
	if ok || !create {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.entities[entity]; ok {
		return b
	}
	// lru.New only fails for a non-positive size, which New rules out.
	b, _ = lru.New(c.capacity)
	c.entities[entity] = b
	return b
}
