package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestCache(ttl time.Duration, maxSize int) (*MemoryCache[[]string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[[]string](ttl, maxSize)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	c, clock := newTestCache(time.Second, 0)

	c.Set("call-1", []string{"a"}, 0)
	v, ok := c.Get("call-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, v)

	clock.t = clock.t.Add(2 * time.Second)
	_, ok = c.Get("call-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestMemoryCache_UpdateAppends(t *testing.T) {
	c, _ := newTestCache(time.Minute, 0)

	appendCand := func(cand string) {
		c.Update("call-1", 0, func(cur []string, _ bool) []string { return append(cur, cand) })
	}
	appendCand("c1")
	appendCand("c2")

	v, ok := c.Take("call-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"c1", "c2"}, v)

	_, ok = c.Take("call-1")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Minute, 2)

	c.Set("first", []string{"1"}, 0)
	clock.t = clock.t.Add(time.Millisecond)
	c.Set("second", []string{"2"}, 0)
	clock.t = clock.t.Add(time.Millisecond)
	c.Set("third", []string{"3"}, 0)

	_, ok := c.Get("first")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())

	// overwriting an existing key never evicts
	c.Set("third", []string{"3b"}, 0)
	assert.Equal(t, 2, c.Size())
}

func TestMemoryCache_CleanupExpired(t *testing.T) {
	c, clock := newTestCache(time.Second, 0)
	c.Set("a", nil, 0)
	c.Set("b", nil, time.Hour)

	clock.t = clock.t.Add(time.Minute)
	c.cleanupExpired()

	assert.Equal(t, 1, c.Size())

	stop := c.StartCleanup(time.Hour)
	stop()
	stop()
}
