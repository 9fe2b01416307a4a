package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetSet(t *testing.T) {
	c := New[string](time.Minute, nil)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", "value")
	got, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestCacheExpiry(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute, func() time.Time { return now })

	c.Set("key", 42)

	got, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, 42, got)

	// Advance past the TTL
	now = now.Add(time.Minute + time.Second)
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestCacheSetWithTTL(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute, func() time.Time { return now })

	c.SetWithTTL("short", 1, time.Second)
	c.Set("long", 2)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestCachePurge(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute, func() time.Time { return now })

	c.SetWithTTL("a", 1, time.Second)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Len())

	now = now.Add(5 * time.Second)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestCacheDelete(t *testing.T) {
	c := New[string](time.Minute, nil)
	c.Set("key", "value")
	c.Delete("key")

	_, ok := c.Get("key")
	assert.False(t, ok)
}
