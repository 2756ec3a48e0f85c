package store

import (
	"log/slog"
	"sync"

	"github.com/hupe1980/segstore/segment"
)

// MemStoreOptions configure a MemStore.
type MemStoreOptions struct {
	// CacheMB is the size of the segment cache in megabytes.
	CacheMB int

	// Logger receives cache and store diagnostics.
	Logger *slog.Logger
}

// MemStore keeps segments in process memory. It is primarily useful
// for tests and examples, but behaves exactly like the durable stores:
// reads are routed through a weighted segment cache and missing
// segments are reported as *segment.NotFoundError.
type MemStore struct {
	mu       sync.RWMutex
	segments map[*segment.ID][]byte

	tracker *segment.Tracker
	cache   *segment.Cache
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(optFns ...func(o *MemStoreOptions)) *MemStore {
	opts := MemStoreOptions{
		CacheMB: segment.DefaultCacheMB,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &MemStore{
		segments: make(map[*segment.ID][]byte),
		cache:    segment.NewCache(opts.CacheMB, opts.Logger),
	}
	s.tracker = segment.NewTracker(s.ReadSegment)
	return s
}

// ContainsSegment reports whether the store holds the segment.
func (s *MemStore) ContainsSegment(id *segment.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.segments[id]
	return ok
}

// ReadSegment returns the segment with the given ID.
func (s *MemStore) ReadSegment(id *segment.ID) (*segment.Segment, error) {
	return s.cache.GetSegment(id, func() (*segment.Segment, error) {
		s.mu.RLock()
		data, ok := s.segments[id]
		s.mu.RUnlock()
		if !ok {
			return nil, &segment.NotFoundError{ID: id}
		}
		return segment.NewSegment(id, data)
	})
}

// WriteSegment stores a copy of data under the given ID.
func (s *MemStore) WriteSegment(id *segment.ID, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	s.mu.Lock()
	s.segments[id] = stored
	s.mu.Unlock()
	return nil
}

// Tracker returns the store's ID intern table.
func (s *MemStore) Tracker() *segment.Tracker { return s.tracker }

// CacheStats returns a snapshot of the segment cache counters.
func (s *MemStore) CacheStats() segment.CacheStats { return s.cache.Stats() }

// Len returns the number of stored segments.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}
