// Package segment implements the core of the storage engine: immutable
// fixed-size segments packed with variable-length records, the interned
// 128 bit segment identity with its 1st-level cache, the weight-bounded
// segment cache, buffered segment writers and their thread-affine pool,
// and the store contract the engine runs on.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// MaxSegmentSize is the upper bound on the byte size of a segment.
	MaxSegmentSize = 256 * 1024

	// MaxReferences is the largest number of foreign segments a data
	// segment can reference. Index zero of the reference table denotes
	// the segment itself and is not stored on the wire.
	MaxReferences = 0xFFFF

	segmentMagic   uint32 = 0x53475331 // "SGS1"
	segmentVersion uint32 = 1

	headerSize      = 16
	refEntrySize    = 16
	recordEntrySize = 9
)

var (
	// ErrInvalidSegment is returned when segment bytes cannot be parsed:
	// wrong magic or version, truncated tables, or record offsets
	// pointing outside the payload.
	ErrInvalidSegment = errors.New("segment: invalid segment")

	// ErrBadRecord is returned when a read addresses a record number the
	// segment does not declare, or crosses a record's declared boundary.
	ErrBadRecord = errors.New("segment: bad record")
)

type recordEntry struct {
	number uint32
	typ    RecordType
	start  int
	end    int
}

// Segment is a parsed, immutable segment. Data segments expose their
// reference table, record table and typed record access; bulk segments
// are opaque byte carriers.
type Segment struct {
	id   *ID
	data []byte

	generation uint32
	refs       []*ID
	entries    []recordEntry
	numbers    *roaring.Bitmap

	// accessed implements the second-chance bit consulted by the
	// segment cache before evicting this segment.
	accessed atomic.Bool
}

// NewSegment parses data into a segment identified by id. Bulk segments
// are not parsed; their bytes are opaque. Data segments are validated
// against the wire format: a fixed header, a reference table of 128 bit
// segment identifiers, a record table sorted by record number, and the
// record payload packed against the segment end.
func NewSegment(id *ID, data []byte) (*Segment, error) {
	if len(data) > MaxSegmentSize {
		return nil, fmt.Errorf("%w: size %d exceeds %d", ErrInvalidSegment, len(data), MaxSegmentSize)
	}
	if id.IsBulk() {
		return &Segment{id: id, data: data}, nil
	}

	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidSegment)
	}
	if magic := binary.BigEndian.Uint32(data); magic != segmentMagic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidSegment, magic)
	}
	if version := binary.BigEndian.Uint32(data[4:]); version != segmentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSegment, version)
	}

	s := &Segment{
		id:         id,
		data:       data,
		generation: binary.BigEndian.Uint32(data[8:]),
		numbers:    roaring.New(),
	}

	refCount := int(binary.BigEndian.Uint16(data[12:]))
	recordCount := int(binary.BigEndian.Uint16(data[14:]))
	tablesEnd := headerSize + refCount*refEntrySize + recordCount*recordEntrySize
	if tablesEnd > len(data) {
		return nil, fmt.Errorf("%w: truncated tables", ErrInvalidSegment)
	}

	s.refs = make([]*ID, refCount+1)
	s.refs[0] = id
	for i := range refCount {
		off := headerSize + i*refEntrySize
		msb := binary.BigEndian.Uint64(data[off:])
		lsb := binary.BigEndian.Uint64(data[off+8:])
		s.refs[i+1] = id.tracker.Intern(msb, lsb)
	}

	s.entries = make([]recordEntry, recordCount)
	starts := make([]int, recordCount)
	for i := range recordCount {
		off := headerSize + refCount*refEntrySize + i*recordEntrySize
		number := binary.BigEndian.Uint32(data[off:])
		typ := RecordType(data[off+4])
		fromEnd := int(binary.BigEndian.Uint32(data[off+5:]))

		if i > 0 && number <= s.entries[i-1].number {
			return nil, fmt.Errorf("%w: record table not sorted", ErrInvalidSegment)
		}
		start := len(data) - fromEnd
		if start < tablesEnd || start > len(data) {
			return nil, fmt.Errorf("%w: record %d offset out of range", ErrInvalidSegment, number)
		}
		s.entries[i] = recordEntry{number: number, typ: typ, start: start}
		starts[i] = start
		s.numbers.Add(number)
	}

	// A record extends to the start of the next record above it; the
	// topmost record extends to the segment end.
	sort.Ints(starts)
	for i := range s.entries {
		idx := sort.SearchInts(starts, s.entries[i].start)
		if idx+1 < len(starts) {
			s.entries[i].end = starts[idx+1]
		} else {
			s.entries[i].end = len(data)
		}
	}

	return s, nil
}

// ID returns the segment's identity.
func (s *Segment) ID() *ID { return s.id }

// Size returns the byte size of the segment.
func (s *Segment) Size() int { return len(s.data) }

// Data returns the raw segment bytes. The slice must not be modified.
func (s *Segment) Data() []byte { return s.data }

// Generation returns the GC generation recorded in the segment header.
// Bulk segments report zero.
func (s *Segment) Generation() uint32 { return s.generation }

// RecordCount returns the number of records the segment declares.
func (s *Segment) RecordCount() int { return len(s.entries) }

// ContainsRecord reports whether the segment declares a record with the
// given number.
func (s *Segment) ContainsRecord(number uint32) bool {
	return s.numbers != nil && s.numbers.Contains(number)
}

// RecordNumbers returns the set of declared record numbers.
func (s *Segment) RecordNumbers() *roaring.Bitmap {
	if s.numbers == nil {
		return roaring.New()
	}
	return s.numbers.Clone()
}

// RecordType returns the declared type of the record with the given
// number.
func (s *Segment) RecordType(number uint32) (RecordType, error) {
	e, err := s.entry(number)
	if err != nil {
		return 0, err
	}
	return e.typ, nil
}

// Reader returns a typed reader over the segment's records. Bulk
// segments have no records to read.
func (s *Segment) Reader() (*Reader, error) {
	if s.id.IsBulk() {
		return nil, fmt.Errorf("%w: bulk segment %v has no records", ErrBadRecord, s.id)
	}
	return &Reader{segment: s}, nil
}

// access marks the segment recently used for the cache's second-chance
// eviction scan.
func (s *Segment) access() {
	s.accessed.Store(true)
}

// popAccessed returns and clears the access bit.
func (s *Segment) popAccessed() bool {
	return s.accessed.Swap(false)
}

func (s *Segment) entry(number uint32) (recordEntry, error) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].number >= number
	})
	if i >= len(s.entries) || s.entries[i].number != number {
		return recordEntry{}, fmt.Errorf("%w: no record %d in segment %v", ErrBadRecord, number, s.id)
	}
	return s.entries[i], nil
}

// refID resolves an index of the segment's reference table. Index zero
// is the segment itself.
func (s *Segment) refID(index uint16) (*ID, error) {
	if int(index) >= len(s.refs) {
		return nil, fmt.Errorf("%w: reference index %d out of range", ErrBadRecord, index)
	}
	return s.refs[index], nil
}
