package segment

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dataSegmentNibble = 0xA
	bulkSegmentNibble = 0xB
)

// IsDataSegmentID reports whether lsb identifies a data segment.
func IsDataSegmentID(lsb uint64) bool {
	return lsb>>60 == dataSegmentNibble
}

// IsBulkSegmentID reports whether lsb identifies a bulk segment.
func IsBulkSegmentID(lsb uint64) bool {
	return lsb>>60 == bulkSegmentNibble
}

// ID is the 128 bit identity of a segment. IDs are interned: the
// tracker hands out exactly one instance per (msb, lsb) pair, so
// pointer equality coincides with identity.
//
// Beyond the raw bits an ID carries in-memory state: the volatile
// reference to the loaded segment (the 1st-level cache), the creation
// time, the GC generation observed on first load, and an optional note
// explaining why the segment was reclaimed.
type ID struct {
	tracker *Tracker
	msb     uint64
	lsb     uint64
	created time.Time

	// mu serializes the cache's slow load path so that concurrent
	// readers of a missing segment trigger a single store read.
	mu      sync.Mutex
	segment atomic.Pointer[Segment]

	// generation holds the segment's GC generation plus one; zero means
	// the segment has not been loaded yet.
	generation atomic.Uint64
	reclaimed  atomic.Pointer[string]
}

// MSB returns the most significant half of the identifier.
func (id *ID) MSB() uint64 { return id.msb }

// LSB returns the least significant half of the identifier.
func (id *ID) LSB() uint64 { return id.lsb }

// IsData reports whether the ID identifies a data segment.
func (id *ID) IsData() bool { return IsDataSegmentID(id.lsb) }

// IsBulk reports whether the ID identifies a bulk segment.
func (id *ID) IsBulk() bool { return IsBulkSegmentID(id.lsb) }

// Age returns the time elapsed since the ID was first interned.
func (id *ID) Age() time.Duration {
	return time.Since(id.created)
}

func (id *ID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id.msb>>32, id.msb>>16&0xFFFF, id.msb&0xFFFF,
		id.lsb>>48, id.lsb&0xFFFFFFFFFFFF)
}

// GetSegment returns the segment identified by this ID, consulting the
// 1st-level reference first and falling back to the tracker's read
// path. The read path locks the ID, so concurrent readers of a missing
// segment trigger a single store read.
func (id *ID) GetSegment() (*Segment, error) {
	if s := id.segment.Load(); s != nil {
		s.access()
		return s, nil
	}
	return id.tracker.readSegment(id)
}

// loaded publishes the freshly loaded segment on the ID and records its
// generation. Called before the segment cache insert so that an
// immediate eviction still observes a consistent reference.
func (id *ID) loaded(s *Segment) {
	id.segment.Store(s)
	id.generation.Store(uint64(s.Generation()) + 1)
}

// unloaded clears the 1st-level reference. Called when the segment
// cache evicts the entry; a later load repopulates the reference.
func (id *ID) unloaded() {
	id.segment.Store(nil)
}

// Reclaimed attaches an explanatory note to the ID when garbage
// collection removes the segment. The note becomes part of the GC info
// reported with segment-not-found failures.
func (id *ID) Reclaimed(note string) {
	id.reclaimed.Store(&note)
}

// GCInfo composes the diagnostic string logged when the segment cannot
// be found: the ID's age, the reclamation note if any, and the
// generation observed on last load if any.
func (id *ID) GCInfo() string {
	info := fmt.Sprintf("age=%dms", id.Age().Milliseconds())
	if note := id.reclaimed.Load(); note != nil {
		info += fmt.Sprintf(",gc-info=%s", *note)
	}
	if g := id.generation.Load(); g > 0 {
		info += fmt.Sprintf(",segment-generation=%d", g-1)
	}
	return info
}
