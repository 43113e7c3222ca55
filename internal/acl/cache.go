package acl

import "sync"

// AnyActor is the cache key actor for anonymous lookups.
const AnyActor = "*"

// CacheKey identifies one cached decision.
type CacheKey struct {
	ActorID string
	Topic   string
}

// KeyFor builds the key for an actor (empty for anonymous) and topic.
func KeyFor(actorID, topic string) CacheKey {
	if actorID == "" {
		actorID = AnyActor
	}
	return CacheKey{ActorID: actorID, Topic: topic}
}

// Cache stores merged entries. Every invalidation advances the generation;
// Put drops values computed against an older generation so a lookup racing
// an invalidation cannot reinstate stale permissions.
type Cache interface {
	Get(key CacheKey) (Entries, bool)
	Put(key CacheKey, entries Entries, generation uint64) bool
	Generation() uint64
	Invalidate(actorID string)
	Clear()
	Len() int
}

// MemoryCache is a process local Cache.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[CacheKey]Entries
	generation uint64
}

// NewMemoryCache builds an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey]Entries)}
}

// Get implements Cache.
func (c *MemoryCache) Get(key CacheKey) (Entries, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put implements Cache.
func (c *MemoryCache) Put(key CacheKey, entries Entries, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation < c.generation {
		return false
	}
	c.entries[key] = entries
	return true
}

// Generation implements Cache.
func (c *MemoryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Invalidate drops every entry of one actor. Keys are compared exactly, so
// clearing "u1" leaves "u10" alone.
func (c *MemoryCache) Invalidate(actorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for key := range c.entries {
		if key.ActorID == actorID {
			delete(c.entries, key)
		}
	}
}

// Clear drops everything.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[CacheKey]Entries)
}

// Len implements Cache.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
