package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheInvalidateExactActor(t *testing.T) {
	c := NewMemoryCache()
	gen := c.Generation()
	assert.True(t, c.Put(KeyFor("u1", "t"), Entries{}, gen))
	assert.True(t, c.Put(KeyFor("u10", "t"), Entries{}, gen))
	assert.True(t, c.Put(KeyFor("", "t"), Entries{}, gen))

	c.Invalidate("u1")

	_, ok := c.Get(KeyFor("u1", "t"))
	assert.False(t, ok)
	_, ok = c.Get(KeyFor("u10", "t"))
	assert.True(t, ok)
	_, ok = c.Get(KeyFor("", "t"))
	assert.True(t, ok)
}

func TestMemoryCacheRejectsStalePut(t *testing.T) {
	c := NewMemoryCache()
	gen := c.Generation()

	c.Invalidate("alice")
	assert.False(t, c.Put(KeyFor("alice", "t"), Entries{}, gen))
	assert.Equal(t, 0, c.Len())

	assert.True(t, c.Put(KeyFor("alice", "t"), Entries{}, c.Generation()))
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestKeyForAnonymous(t *testing.T) {
	assert.Equal(t, CacheKey{ActorID: AnyActor, Topic: "x"}, KeyFor("", "x"))
}
