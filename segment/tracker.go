package segment

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Tracker interns segment IDs for a single store: for every (msb, lsb)
// pair exactly one *ID exists, so identity comparisons are pointer
// comparisons and per-ID state (the 1st-level cache, generation, GC
// notes) has a single home.
//
// The tracker also owns the store's read path: IDs resolve their
// segments through it, which lets stores route reads through a cache.
type Tracker struct {
	read func(*ID) (*Segment, error)

	mu  sync.RWMutex
	ids map[idKey]*ID
}

type idKey struct {
	msb, lsb uint64
}

// NewTracker creates a tracker whose IDs load their segments through
// read.
func NewTracker(read func(*ID) (*Segment, error)) *Tracker {
	return &Tracker{
		read: read,
		ids:  make(map[idKey]*ID),
	}
}

// Intern returns the unique ID for the given 128 bit identifier,
// creating it on first use.
func (t *Tracker) Intern(msb, lsb uint64) *ID {
	key := idKey{msb, lsb}

	t.mu.RLock()
	id := t.ids[key]
	t.mu.RUnlock()
	if id != nil {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id := t.ids[key]; id != nil {
		return id
	}
	id = &ID{tracker: t, msb: msb, lsb: lsb, created: time.Now()}
	t.ids[key] = id
	return id
}

// NewDataID mints a fresh data segment ID.
func (t *Tracker) NewDataID() *ID {
	return t.newID(dataSegmentNibble)
}

// NewBulkID mints a fresh bulk segment ID.
func (t *Tracker) NewBulkID() *ID {
	return t.newID(bulkSegmentNibble)
}

func (t *Tracker) newID(nibble uint64) *ID {
	for {
		msb := rand.Uint64()
		lsb := rand.Uint64()&^(uint64(0xF)<<60) | nibble<<60

		key := idKey{msb, lsb}
		t.mu.Lock()
		if _, exists := t.ids[key]; !exists {
			id := &ID{tracker: t, msb: msb, lsb: lsb, created: time.Now()}
			t.ids[key] = id
			t.mu.Unlock()
			return id
		}
		t.mu.Unlock()
	}
}

// Len returns the number of interned IDs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

func (t *Tracker) readSegment(id *ID) (*Segment, error) {
	return t.read(id)
}
