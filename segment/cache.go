package segment

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// cacheEntryOverhead approximates the per-entry bookkeeping weight added
// on top of the segment's byte size.
const cacheEntryOverhead = 1024

// DefaultCacheMB is the default maximum weight of the segment cache in
// megabytes.
const DefaultCacheMB = 256

// Cache is the 2nd-level segment cache: a weight-bounded LRU mapping
// segment IDs to loaded segments. Entry weight is the segment's byte
// size plus a fixed overhead. Bulk segments are never stored.
//
// The cache cooperates with the 1st-level reference on each ID: an
// insert publishes the segment on the ID before the cache takes it, an
// eviction clears the reference. Hits served by the 1st-level reference
// are still counted here.
type Cache struct {
	maxWeight int64
	logger    *slog.Logger

	mu        sync.Mutex
	items     map[*ID]*list.Element
	evictList *list.List
	weight    int64

	hits          atomic.Int64
	misses        atomic.Int64
	loadSuccess   atomic.Int64
	loadException atomic.Int64
	loadTime      atomic.Int64
	evictions     atomic.Int64
}

// NewCache creates a segment cache bounded by maxMB megabytes of
// weight. A nil logger disables logging.
func NewCache(maxMB int, logger *slog.Logger) *Cache {
	if maxMB <= 0 {
		maxMB = DefaultCacheMB
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		maxWeight: int64(maxMB) * 1024 * 1024,
		logger:    logger,
		items:     make(map[*ID]*list.Element),
		evictList: list.New(),
	}
}

// GetSegment returns the segment for id, loading it through loader on a
// miss. The 1st-level reference on the ID is consulted first; on a miss
// the load runs under the ID's lock so concurrent readers trigger a
// single load. Loaded bulk segments bypass the cache.
//
// A loader failure is counted and returned as is when the segment is
// absent, or wrapped in an *ExecutionError otherwise.
func (c *Cache) GetSegment(id *ID, loader func() (*Segment, error)) (*Segment, error) {
	if s := id.segment.Load(); s != nil {
		c.hits.Add(1)
		s.access()
		return s, nil
	}

	id.mu.Lock()
	defer id.mu.Unlock()

	if s := id.segment.Load(); s != nil {
		c.hits.Add(1)
		s.access()
		return s, nil
	}
	c.misses.Add(1)

	start := time.Now()
	s, err := loader()
	c.loadTime.Add(time.Since(start).Nanoseconds())
	if err != nil {
		c.loadException.Add(1)
		if _, ok := err.(*NotFoundError); ok {
			return nil, err
		}
		return nil, NewExecutionError(id, err)
	}
	c.loadSuccess.Add(1)

	if id.IsBulk() {
		return s, nil
	}
	c.PutSegment(s)
	return s, nil
}

// PutSegment inserts a loaded data segment. The segment is published on
// its ID before the cache insert, so an immediate eviction still leaves
// the 1st-level reference consistent. Bulk segments are ignored.
func (c *Cache) PutSegment(s *Segment) {
	if s.id.IsBulk() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s.id.loaded(s)

	w := int64(s.Size()) + cacheEntryOverhead
	if ent, ok := c.items[s.id]; ok {
		old := ent.Value.(*Segment)
		c.weight -= int64(old.Size()) + cacheEntryOverhead
		ent.Value = s
		c.evictList.MoveToFront(ent)
		c.weight += w
	} else {
		c.items[s.id] = c.evictList.PushFront(s)
		c.weight += w
	}

	c.evict()
}

// evict drops least recently used entries until the weight bound holds.
// A segment whose access bit is set gets one more round at the front of
// the list before it becomes evictable. Caller holds c.mu.
func (c *Cache) evict() {
	scanned := 0
	for c.weight > c.maxWeight {
		ent := c.evictList.Back()
		if ent == nil {
			return
		}
		s := ent.Value.(*Segment)

		if s.popAccessed() && scanned < len(c.items) {
			c.evictList.MoveToFront(ent)
			scanned++
			continue
		}

		c.evictList.Remove(ent)
		delete(c.items, s.id)
		c.weight -= int64(s.Size()) + cacheEntryOverhead
		s.id.unloaded()
		c.evictions.Add(1)
		c.logger.Debug("segment evicted", "segment", s.id.String(), "size", s.Size())
	}
}

// Clear invalidates every entry, clearing the 1st-level reference of
// each cached segment.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ent := range c.items {
		c.evictList.Remove(ent)
		delete(c.items, id)
		id.unloaded()
		c.evictions.Add(1)
	}
	c.weight = 0
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	elements := int64(len(c.items))
	weight := c.weight
	c.mu.Unlock()

	return CacheStats{
		ElementCount:       elements,
		CurrentWeight:      weight,
		MaxWeight:          c.maxWeight,
		HitCount:           c.hits.Load(),
		MissCount:          c.misses.Load(),
		LoadSuccessCount:   c.loadSuccess.Load(),
		LoadExceptionCount: c.loadException.Load(),
		LoadTime:           c.loadTime.Load(),
		EvictionCount:      c.evictions.Load(),
	}
}
