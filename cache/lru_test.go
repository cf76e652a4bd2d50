package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sized int64

func (s sized) MemoryUsage() int64 { return int64(s) }

func TestLRU(t *testing.T) {
	t.Run("get and put", func(t *testing.T) {
		l := New[sized](10, 1024)

		_, ok := l.Get("a")
		assert.False(t, ok)

		l.Put("a", sized(100))

		v, ok := l.Get("a")
		require.True(t, ok)
		assert.Equal(t, sized(100), v)
		assert.Equal(t, 1, l.Len())
	})

	t.Run("put updates existing entry", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("a", sized(100))
		l.Put("a", sized(200))

		v, ok := l.Get("a")
		require.True(t, ok)
		assert.Equal(t, sized(200), v)
		assert.Equal(t, 1, l.Len())
	})

	t.Run("evicts least recently used beyond max size", func(t *testing.T) {
		l := New[sized](3, 1024)

		l.Put("a", sized(1))
		l.Put("b", sized(1))
		l.Put("c", sized(1))

		// Touch "a" so "b" becomes the oldest.
		_, ok := l.Get("a")
		require.True(t, ok)

		l.Put("d", sized(1))

		assert.Equal(t, 3, l.Len())
		assert.False(t, l.Contains("b"))
		assert.True(t, l.Contains("a"))
		assert.True(t, l.Contains("c"))
		assert.True(t, l.Contains("d"))
	})

	t.Run("update that grows an entry evicts beyond max memory", func(t *testing.T) {
		l := New[sized](10, 300)

		l.Put("a", sized(100))
		l.Put("b", sized(100))
		l.Put("c", sized(100))

		l.Put("c", sized(250))

		assert.LessOrEqual(t, l.MemoryUsage(), int64(300))
		assert.True(t, l.Contains("c"))
		assert.False(t, l.Contains("a"))
	})

	t.Run("evicts beyond max memory", func(t *testing.T) {
		l := New[sized](100, 300)

		l.Put("a", sized(100))
		l.Put("b", sized(100))
		l.Put("c", sized(100))
		l.Put("d", sized(100))

		assert.False(t, l.Contains("a"))
		assert.LessOrEqual(t, l.MemoryUsage(), int64(300))
	})

	t.Run("size never exceeds max", func(t *testing.T) {
		l := New[sized](5, 1<<20)

		for i := 0; i < 50; i++ {
			l.Put(fmt.Sprintf("key-%d", i), sized(1))
		}

		assert.Equal(t, 5, l.Len())
	})

	t.Run("remove", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("a", sized(1))
		l.Remove("a")
		assert.False(t, l.Contains("a"))

		// Removing a missing key is a no-op.
		l.Remove("nope")
	})

	t.Run("clear", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("a", sized(1))
		l.Put("b", sized(1))
		l.Clear()

		assert.Equal(t, 0, l.Len())
		assert.Equal(t, int64(0), l.MemoryUsage())
	})

	t.Run("keys most recently used first", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("a", sized(1))
		l.Put("b", sized(1))
		l.Put("c", sized(1))
		l.Get("a")

		assert.Equal(t, []string{"a", "c", "b"}, l.Keys())
	})
}

func TestLRUPinning(t *testing.T) {
	t.Run("pinned entries survive capacity eviction", func(t *testing.T) {
		l := New[sized](3, 1024)

		l.Put("pinned", sized(1))
		l.Pin("pinned")
		l.Put("b", sized(1))
		l.Put("c", sized(1))
		l.Put("d", sized(1))
		l.Put("e", sized(1))

		assert.True(t, l.Contains("pinned"))
		assert.True(t, l.IsPinned("pinned"))
		assert.Equal(t, 3, l.Len())
	})

	t.Run("pinned entries survive explicit eviction", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("pinned", sized(100))
		l.Pin("pinned")
		l.Put("b", sized(100))

		removed := l.EvictLRU(10)
		assert.Equal(t, 1, removed)
		assert.True(t, l.Contains("pinned"))

		removed = l.EvictByMemory(0)
		assert.Equal(t, 0, removed)
		assert.True(t, l.Contains("pinned"))
	})

	t.Run("unpin restores evictability", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("a", sized(1))
		l.Pin("a")
		l.Unpin("a")
		assert.False(t, l.IsPinned("a"))

		assert.Equal(t, 1, l.EvictLRU(1))
		assert.False(t, l.Contains("a"))
	})

	t.Run("put terminates when all entries are pinned", func(t *testing.T) {
		l := New[sized](2, 1024)

		l.Put("a", sized(1))
		l.Pin("a")
		l.Put("b", sized(1))
		l.Pin("b")

		// Over capacity with nothing evictable; must not spin.
		l.Put("c", sized(1))
		assert.Equal(t, 3, l.Len())
	})

	t.Run("remove deletes pinned entries", func(t *testing.T) {
		l := New[sized](10, 1024)

		l.Put("a", sized(1))
		l.Pin("a")
		l.Remove("a")
		assert.False(t, l.Contains("a"))
	})
}

func TestLRUEvictOlderThan(t *testing.T) {
	mock := clock.NewMock()
	l := New[sized](10, 1024, WithClock[sized](mock))

	l.Put("old", sized(1))
	mock.Add(2 * time.Hour)
	l.Put("fresh", sized(1))

	removed := l.EvictOlderThan(time.Hour)

	assert.Equal(t, 1, removed)
	assert.False(t, l.Contains("old"))
	assert.True(t, l.Contains("fresh"))
}

func TestLRUStats(t *testing.T) {
	l := New[sized](2, 1024)

	l.Put("a", sized(1))
	l.Get("a")
	l.Get("a")
	l.Get("missing")

	hits, misses, evictions := l.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(0), evictions)
	assert.InDelta(t, 2.0/3.0, l.HitRatio(), 1e-9)

	l.Put("b", sized(1))
	l.Put("c", sized(1))
	_, _, evictions = l.Stats()
	assert.Equal(t, int64(1), evictions)

	l.ResetStats()
	hits, misses, evictions = l.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
	assert.Zero(t, evictions)
	assert.Zero(t, l.HitRatio())
}

func TestLRUOptimize(t *testing.T) {
	l := New[sized](10, 1024)

	l.Put("cold", sized(1))
	l.Put("warm", sized(1))
	l.Put("hot", sized(1))

	for i := 0; i < 5; i++ {
		l.Get("hot")
	}
	l.Get("warm")

	l.Optimize()

	assert.Equal(t, []string{"hot", "warm", "cold"}, l.Keys())

	// Lookups still work after the rebuild.
	v, ok := l.Get("cold")
	require.True(t, ok)
	assert.Equal(t, sized(1), v)
}

func TestLRUSetBounds(t *testing.T) {
	l := New[sized](10, 1024)

	for i := 0; i < 10; i++ {
		l.Put(fmt.Sprintf("key-%d", i), sized(1))
	}

	l.SetMaxSize(3)
	l.Put("one-more", sized(1))
	assert.Equal(t, 3, l.Len())

	l.SetMaxMemory(2)
	l.Put("tiny", sized(1))
	assert.LessOrEqual(t, l.MemoryUsage(), int64(2))
}
