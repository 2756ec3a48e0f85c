package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordCache(t *testing.T) {
	c := NewRecordCache[int](numShards * 4)

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	// Overwrite keeps a single entry.
	c.Put("a", 3)
	v, ok = c.Get("a")
	require.True(t, ok)
	require.Equal(t, 3, v)
	require.Equal(t, 2, c.Len())

	hits, misses := c.Stats()
	require.EqualValues(t, 2, hits)
	require.EqualValues(t, 1, misses)
}

func TestRecordCacheEvicts(t *testing.T) {
	c := NewRecordCache[int](numShards)

	for i := range numShards * 8 {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}

	// Each shard holds at most one entry.
	require.LessOrEqual(t, c.Len(), numShards)
}

func TestRecordCacheDisabled(t *testing.T) {
	c := NewRecordCache[int](0)

	c.Put("a", 1)
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestNodeCache(t *testing.T) {
	c := NewNodeCache[string](10, 3)

	c.Put("/", 0, "root")
	c.Put("/a", 1, "a")
	c.Put("/a/b", 2, "b")

	v, ok := c.Get("/a", 1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	// Beyond the depth bound nothing is cached.
	c.Put("/a/b/c", 3, "c")
	_, ok = c.Get("/a/b/c", 3)
	require.False(t, ok)

	require.Equal(t, 3, c.Len())
}

func TestNodeCacheDropsDeepestLevel(t *testing.T) {
	c := NewNodeCache[int](4, 4)

	c.Put("/", 0, 0)
	c.Put("/a", 1, 1)
	c.Put("/a/b", 2, 2)
	c.Put("/a/c", 2, 3)

	// The cache is full: the next insert at a shallower depth evicts
	// the deepest populated level.
	c.Put("/b", 1, 4)

	_, ok := c.Get("/a/b", 2)
	require.False(t, ok)
	_, ok = c.Get("/a/c", 2)
	require.False(t, ok)

	v, ok := c.Get("/b", 1)
	require.True(t, ok)
	require.Equal(t, 4, v)

	// Depth 2 is disabled from now on.
	c.Put("/x/y", 2, 9)
	_, ok = c.Get("/x/y", 2)
	require.False(t, ok)
}

func TestNodeCacheDisabled(t *testing.T) {
	c := NewNodeCache[int](0, 5)

	c.Put("/", 0, 1)
	_, ok := c.Get("/", 0)
	require.False(t, ok)
}
