package segment

import (
	"fmt"
	"strings"

	"github.com/hupe1980/segstore/internal/raw"
)

// BlockSize is the chunk size of block records holding the bytes of
// values too large to store inline.
const BlockSize = 1 << 12

const listFanOut = 255

// Reader provides typed access to the records of a data segment. Every
// read is bounds-checked against the segment's record table; reads that
// cross a record's declared extent fail with ErrBadRecord. Reads that
// follow record IDs into other segments resolve them through the IDs'
// load path.
type Reader struct {
	segment *Segment
}

func (r *Reader) raw() *raw.Reader {
	return &raw.Reader{Value: func(recordNumber uint32, length int) ([]byte, error) {
		e, err := r.segment.entry(recordNumber)
		if err != nil {
			return nil, err
		}
		if e.start+length > e.end {
			return nil, fmt.Errorf("%w: read of %d bytes exceeds record %d in segment %v",
				ErrBadRecord, length, recordNumber, r.segment.id)
		}
		return r.segment.data[e.start : e.start+length], nil
	}}
}

func (r *Reader) resolve(id raw.RecordID) (RecordID, error) {
	sid, err := r.segment.refID(id.SegmentIndex)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID{ID: sid, Number: id.Number}, nil
}

// ReadByte reads one byte at offset within the given record.
func (r *Reader) ReadByte(number uint32, offset int) (byte, error) {
	return r.raw().ReadByte(number, offset)
}

// ReadShort reads a big-endian uint16 at offset within the given record.
func (r *Reader) ReadShort(number uint32, offset int) (uint16, error) {
	return r.raw().ReadShort(number, offset)
}

// ReadInt reads a big-endian uint32 at offset within the given record.
func (r *Reader) ReadInt(number uint32, offset int) (uint32, error) {
	return r.raw().ReadInt(number, offset)
}

// ReadLong reads a big-endian uint64 at offset within the given record.
func (r *Reader) ReadLong(number uint32, offset int) (uint64, error) {
	return r.raw().ReadLong(number, offset)
}

// ReadBytes reads length bytes starting at position within the given
// record.
func (r *Reader) ReadBytes(number uint32, position, length int) ([]byte, error) {
	return r.raw().ReadBytes(number, position, length)
}

// ReadRecordID reads the record ID at offset within the given record
// and resolves its segment reference.
func (r *Reader) ReadRecordID(number uint32, offset int) (RecordID, error) {
	id, err := r.raw().ReadRecordID(number, offset)
	if err != nil {
		return RecordID{}, err
	}
	return r.resolve(id)
}

// ReadLength reads the variable-length length field at the start of the
// given record.
func (r *Reader) ReadLength(number uint32) (int64, error) {
	return r.raw().ReadLength(number)
}

// ReadString reads the string value record with the given number.
// Inline strings are decoded in place; large strings are reassembled
// from their block list, loading referenced segments as needed.
func (r *Reader) ReadString(number uint32) (string, error) {
	s, err := r.raw().ReadString(number)
	if err != nil {
		return "", err
	}
	if !s.Long {
		return s.Value, nil
	}

	listID, err := r.resolve(s.ID)
	if err != nil {
		return "", err
	}
	blocks := (s.Length + BlockSize - 1) / BlockSize

	var sb strings.Builder
	sb.Grow(int(s.Length))
	remaining := s.Length
	err = forEachListEntry(listID, int(blocks), func(block RecordID) error {
		n := int64(BlockSize)
		if remaining < n {
			n = remaining
		}
		b, err := readBlock(block, int(n))
		if err != nil {
			return err
		}
		sb.Write(b)
		remaining -= n
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ReadBlobID reads the blob identifier record with the given number.
// Small identifiers are stored in place; long identifiers reference a
// string record holding the identifier text.
func (r *Reader) ReadBlobID(number uint32) (string, error) {
	b, err := r.raw().ReadBlobID(number)
	if err != nil {
		return "", err
	}
	if !b.Long {
		return string(b.Value), nil
	}

	rid, err := r.resolve(b.ID)
	if err != nil {
		return "", err
	}
	return readString(rid)
}

// ReadTemplate reads the template record with the given number and
// resolves the record IDs it embeds.
func (r *Reader) ReadTemplate(number uint32) (*Template, error) {
	t, err := r.raw().ReadTemplate(number)
	if err != nil {
		return nil, err
	}
	return r.resolveTemplate(t)
}

// readString reads the string record addressed by rid, loading its
// segment if necessary.
func readString(rid RecordID) (string, error) {
	s, err := rid.ID.GetSegment()
	if err != nil {
		return "", err
	}
	reader, err := s.Reader()
	if err != nil {
		return "", err
	}
	return reader.ReadString(rid.Number)
}

// readBlock reads the first length bytes of the block record addressed
// by rid. Blocks in bulk segments span the whole segment.
func readBlock(rid RecordID, length int) ([]byte, error) {
	s, err := rid.ID.GetSegment()
	if err != nil {
		return nil, err
	}
	if rid.ID.IsBulk() {
		if length > s.Size() {
			return nil, fmt.Errorf("%w: read of %d bytes exceeds bulk segment %v",
				ErrBadRecord, length, rid.ID)
		}
		return s.Data()[:length], nil
	}
	reader, err := s.Reader()
	if err != nil {
		return nil, err
	}
	return reader.ReadBytes(rid.Number, 0, length)
}

// forEachListEntry walks the count entries of the list rooted at rid in
// order. Lists are bucket trees with fan-out 255; a single-entry list
// is the entry itself.
func forEachListEntry(rid RecordID, count int, fn func(RecordID) error) error {
	if count <= 0 {
		return nil
	}
	if count == 1 {
		return fn(rid)
	}

	// The root bucket groups entries into runs of the largest power of
	// the fan-out below count.
	bucketSize := 1
	for bucketSize*listFanOut < count {
		bucketSize *= listFanOut
	}

	s, err := rid.ID.GetSegment()
	if err != nil {
		return err
	}
	reader, err := s.Reader()
	if err != nil {
		return err
	}

	for offset := 0; count > 0; offset += raw.RecordIDBytes {
		sub, err := reader.ReadRecordID(rid.Number, offset)
		if err != nil {
			return err
		}
		n := bucketSize
		if count < n {
			n = count
		}
		if err := forEachListEntry(sub, n, fn); err != nil {
			return err
		}
		count -= n
	}
	return nil
}
