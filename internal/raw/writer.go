package raw

import "encoding/binary"

// Writer encodes records into an underlying segment buffer. Prepare
// reserves space for a record of the given type and returns the buffer
// region to fill; the region is exactly size bytes long. The writer
// publishes the smallest length encoding that fits.
type Writer struct {
	// Prepare allocates a record of the given type with size payload
	// bytes referencing refs other record IDs, and returns the payload
	// region.
	Prepare func(typ uint8, size, refs int) ([]byte, error)
}

// WriteValue writes an inline value record containing data. The length
// of data must be below MediumLimit; longer values are stored out of
// line with WriteLongValue.
func (w *Writer) WriteValue(typ uint8, data []byte) error {
	n, err := EncodedLengthSize(int64(len(data)))
	if err != nil {
		return err
	}
	if n == LongLengthSize {
		return ErrInvalidLength
	}
	buf, err := w.Prepare(typ, n+len(data), 0)
	if err != nil {
		return err
	}
	appendLength(buf[:0], int64(len(data)))
	copy(buf[n:], data)
	return nil
}

// WriteLongValue writes a value record for an out-of-line value of the
// given length whose bytes are reachable through id.
func (w *Writer) WriteLongValue(typ uint8, id RecordID, length int64) error {
	if length < MediumLimit || length > MaxLength {
		return ErrInvalidLength
	}
	buf, err := w.Prepare(typ, LongLengthSize+RecordIDBytes, 1)
	if err != nil {
		return err
	}
	b := appendLength(buf[:0], length)
	AppendRecordID(b, id)
	return nil
}

// WriteBlobID writes a small blob identifier record carrying blobID in
// place. The identifier must be shorter than SmallBlobIDLimit.
func (w *Writer) WriteBlobID(typ uint8, blobID []byte) error {
	if len(blobID) >= SmallBlobIDLimit {
		return ErrInvalidLength
	}
	buf, err := w.Prepare(typ, SmallBlobIDLengthSize+len(blobID), 0)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(buf, 0xE000|uint16(len(blobID)))
	copy(buf[SmallBlobIDLengthSize:], blobID)
	return nil
}

// WriteLongBlobID writes a long blob identifier record referencing a
// string record that holds the identifier bytes.
func (w *Writer) WriteLongBlobID(typ uint8, id RecordID) error {
	buf, err := w.Prepare(typ, 1+RecordIDBytes, 1)
	if err != nil {
		return err
	}
	buf[0] = 0xF0
	AppendRecordID(buf[1:1], id)
	return nil
}

// WriteBlock writes a raw block record. Blocks carry no length header;
// their extent is declared by the segment's record table.
func (w *Writer) WriteBlock(typ uint8, data []byte) error {
	buf, err := w.Prepare(typ, len(data), 0)
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

// appendLength appends the smallest encoding of length to dst. The
// caller has validated the range.
func appendLength(dst []byte, length int64) []byte {
	switch {
	case length < SmallLimit:
		return append(dst, byte(length))
	case length < MediumLimit:
		return binary.BigEndian.AppendUint16(dst, uint16(length-MediumLengthDelta)|0x8000)
	default:
		return binary.BigEndian.AppendUint64(dst, uint64(length-LongLengthDelta)|0xC000000000000000)
	}
}

// AppendLength appends the smallest encoding of length to dst, or
// ErrInvalidLength when the value is out of range.
func AppendLength(dst []byte, length int64) ([]byte, error) {
	if length < 0 || length > MaxLength {
		return dst, ErrInvalidLength
	}
	return appendLength(dst, length), nil
}
