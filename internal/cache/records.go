// Package cache provides the writer-side interning caches: a sharded
// LRU for recently written records keyed by value, and a depth-bounded
// cache for node records.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/dgryski/go-metro"
)

const numShards = 16

// RecordCache remembers the IDs of recently written records keyed by
// their content, so that writing the same value again reuses the
// existing record. Entries are distributed over shards by a metro hash
// of the key and evicted per shard in LRU order.
//
// A size of zero or less disables the cache entirely.
type RecordCache[V any] struct {
	shards   [numShards]*recordCacheShard[V]
	disabled bool

	hits   atomic.Int64
	misses atomic.Int64
}

type recordCacheShard[V any] struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
}

type recordEntry[V any] struct {
	key   string
	value V
}

// NewRecordCache creates a record cache holding up to size entries.
func NewRecordCache[V any](size int) *RecordCache[V] {
	c := &RecordCache[V]{}
	if size <= 0 {
		c.disabled = true
		return c
	}

	shardCapacity := size / numShards
	if shardCapacity < 1 {
		shardCapacity = 1
	}
	for i := range c.shards {
		c.shards[i] = &recordCacheShard[V]{
			capacity:  shardCapacity,
			items:     make(map[string]*list.Element),
			evictList: list.New(),
		}
	}
	return c
}

func (c *RecordCache[V]) shard(key string) *recordCacheShard[V] {
	return c.shards[metro.Hash64Str(key, 0)%numShards]
}

// Get returns the cached value for key.
func (c *RecordCache[V]) Get(key string) (V, bool) {
	var zero V
	if c.disabled {
		return zero, false
	}

	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.items[key]; ok {
		c.hits.Add(1)
		s.evictList.MoveToFront(ent)
		return ent.Value.(*recordEntry[V]).value, true
	}
	c.misses.Add(1)
	return zero, false
}

// Put caches value under key.
func (c *RecordCache[V]) Put(key string, value V) {
	if c.disabled {
		return
	}

	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.items[key]; ok {
		s.evictList.MoveToFront(ent)
		ent.Value.(*recordEntry[V]).value = value
		return
	}

	for s.evictList.Len() >= s.capacity {
		oldest := s.evictList.Back()
		if oldest == nil {
			break
		}
		s.evictList.Remove(oldest)
		delete(s.items, oldest.Value.(*recordEntry[V]).key)
	}

	s.items[key] = s.evictList.PushFront(&recordEntry[V]{key: key, value: value})
}

// Stats returns the hit and miss counts.
func (c *RecordCache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached entries.
func (c *RecordCache[V]) Len() int {
	if c.disabled {
		return 0
	}
	var n int
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
