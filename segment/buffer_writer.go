package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/segstore/internal/raw"
)

// ErrRecordTooLarge is returned when a single record cannot fit into an
// empty segment.
var ErrRecordTooLarge = errors.New("segment: record too large")

type bufferEntry struct {
	number  uint32
	typ     RecordType
	fromEnd int
}

// BufferWriter accumulates records into an in-memory segment buffer and
// emits the segment to the store when it fills up or when flushed.
// Records pack against the buffer end; the header and tables are laid
// out in front of them at flush time.
//
// A BufferWriter is single-writer: it is never used by two goroutines
// at once. The pool enforces this through borrow affinity.
type BufferWriter struct {
	store      Store
	generation uint32
	wid        string
	logger     *slog.Logger

	id         *ID
	buffer     []byte
	position   int
	refs       []*ID
	refIndexes map[*ID]uint16
	entries    []bufferEntry
	nextNumber uint32
	dirty      bool
}

// NewBufferWriter creates a buffered writer emitting segments tagged
// with the given GC generation. The writer ID wid identifies the writer
// in logs. A nil logger disables logging.
func NewBufferWriter(store Store, generation uint32, wid string, logger *slog.Logger) *BufferWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &BufferWriter{
		store:      store,
		generation: generation,
		wid:        wid,
		logger:     logger,
		buffer:     make([]byte, MaxSegmentSize),
	}
	w.reset()
	return w
}

// Generation returns the GC generation the writer was created for. The
// generation is fixed: a writer whose generation went stale is disposed
// by the pool, never reused.
func (w *BufferWriter) Generation() uint32 { return w.generation }

// WriterID returns the writer's identifier.
func (w *BufferWriter) WriterID() string { return w.wid }

// SegmentID returns the ID the current buffer will be flushed under.
func (w *BufferWriter) SegmentID() *ID { return w.id }

func (w *BufferWriter) reset() {
	w.id = w.store.Tracker().NewDataID()
	w.position = len(w.buffer)
	w.refs = append(w.refs[:0], w.id)
	w.refIndexes = map[*ID]uint16{w.id: 0}
	w.entries = w.entries[:0]
	w.nextNumber = 0
	w.dirty = false
}

// headerBytes is the current size of the header and tables.
func (w *BufferWriter) headerBytes() int {
	return headerSize + (len(w.refs)-1)*refEntrySize + len(w.entries)*recordEntrySize
}

// Prepare reserves size payload bytes for a record of the given type
// referencing the segments in ids, flushing the current buffer first
// when the record would not fit. It returns the new record's ID and the
// buffer region to fill.
func (w *BufferWriter) Prepare(typ RecordType, size int, ids []*ID) (RecordID, []byte, error) {
	if size < 0 {
		return RecordID{}, nil, fmt.Errorf("%w: negative size %d", ErrRecordTooLarge, size)
	}

	if !w.fits(size, ids) {
		if err := w.Flush(); err != nil {
			return RecordID{}, nil, err
		}
		if !w.fits(size, ids) {
			return RecordID{}, nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, size)
		}
	}

	for _, id := range ids {
		if _, ok := w.refIndexes[id]; !ok {
			w.refIndexes[id] = uint16(len(w.refs))
			w.refs = append(w.refs, id)
		}
	}

	number := w.nextNumber
	w.nextNumber++
	w.position -= size
	w.entries = append(w.entries, bufferEntry{
		number:  number,
		typ:     typ,
		fromEnd: len(w.buffer) - w.position,
	})
	w.dirty = true

	return RecordID{ID: w.id, Number: number},
		w.buffer[w.position : w.position+size], nil
}

func (w *BufferWriter) fits(size int, ids []*ID) bool {
	newRefs := 0
	for i, id := range ids {
		if _, ok := w.refIndexes[id]; ok {
			continue
		}
		fresh := true
		for _, prev := range ids[:i] {
			if prev == id {
				fresh = false
				break
			}
		}
		if fresh {
			newRefs++
		}
	}
	if len(w.refs)-1+newRefs > MaxReferences {
		return false
	}

	used := w.headerBytes() + (len(w.buffer) - w.position)
	return used+newRefs*refEntrySize+recordEntrySize+size <= len(w.buffer)
}

// appendRecordID appends the wire form of rid to dst, resolving its
// segment through the current reference table. The segment must have
// been declared to Prepare.
func (w *BufferWriter) appendRecordID(dst []byte, rid RecordID) ([]byte, error) {
	index, ok := w.refIndexes[rid.ID]
	if !ok {
		return dst, fmt.Errorf("segment: %v not in reference table of %v", rid.ID, w.id)
	}
	return raw.AppendRecordID(dst, raw.RecordID{SegmentIndex: index, Number: rid.Number}), nil
}

// rawRecordID resolves rid against the current reference table.
func (w *BufferWriter) rawRecordID(rid RecordID) (raw.RecordID, error) {
	index, ok := w.refIndexes[rid.ID]
	if !ok {
		return raw.RecordID{}, fmt.Errorf("segment: %v not in reference table of %v", rid.ID, w.id)
	}
	return raw.RecordID{SegmentIndex: index, Number: rid.Number}, nil
}

// Flush assembles the buffered records into a segment, writes it to the
// store and recycles the buffer under a fresh segment ID. Flushing an
// empty buffer is a no-op.
func (w *BufferWriter) Flush() error {
	if !w.dirty {
		return nil
	}

	payload := len(w.buffer) - w.position
	data := make([]byte, w.headerBytes()+payload)

	binary.BigEndian.PutUint32(data, segmentMagic)
	binary.BigEndian.PutUint32(data[4:], segmentVersion)
	binary.BigEndian.PutUint32(data[8:], w.generation)
	binary.BigEndian.PutUint16(data[12:], uint16(len(w.refs)-1))
	binary.BigEndian.PutUint16(data[14:], uint16(len(w.entries)))

	off := headerSize
	for _, id := range w.refs[1:] {
		binary.BigEndian.PutUint64(data[off:], id.MSB())
		binary.BigEndian.PutUint64(data[off+8:], id.LSB())
		off += refEntrySize
	}
	for _, e := range w.entries {
		binary.BigEndian.PutUint32(data[off:], e.number)
		data[off+4] = uint8(e.typ)
		binary.BigEndian.PutUint32(data[off+5:], uint32(e.fromEnd))
		off += recordEntrySize
	}
	copy(data[off:], w.buffer[w.position:])

	if err := w.store.WriteSegment(w.id, data); err != nil {
		return fmt.Errorf("flushing segment %v: %w", w.id, err)
	}
	w.logger.Debug("segment flushed",
		"writer", w.wid, "segment", w.id.String(),
		"records", len(w.entries), "size", len(data))

	w.reset()
	return nil
}
