package raw

import "encoding/binary"

// Reader decodes records from an underlying random-access segment. The
// segment is abstracted by Value, which returns the first length bytes
// of the record identified by recordNumber. Reads never extend past the
// record boundary; Value reports an error when they would.
type Reader struct {
	// Value returns the leading length bytes of the given record.
	Value func(recordNumber uint32, length int) ([]byte, error)
}

func (r *Reader) value(recordNumber uint32, offset, length int) ([]byte, error) {
	b, err := r.Value(recordNumber, offset+length)
	if err != nil {
		return nil, err
	}
	return b[offset : offset+length], nil
}

// ReadByte reads a single byte at the given offset within a record.
func (r *Reader) ReadByte(recordNumber uint32, offset int) (byte, error) {
	b, err := r.value(recordNumber, offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadShort reads a big-endian uint16 at the given offset within a record.
func (r *Reader) ReadShort(recordNumber uint32, offset int) (uint16, error) {
	b, err := r.value(recordNumber, offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadInt reads a big-endian uint32 at the given offset within a record.
func (r *Reader) ReadInt(recordNumber uint32, offset int) (uint32, error) {
	b, err := r.value(recordNumber, offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadLong reads a big-endian uint64 at the given offset within a record.
func (r *Reader) ReadLong(recordNumber uint32, offset int) (uint64, error) {
	b, err := r.value(recordNumber, offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadBytes reads length bytes starting at position within a record.
func (r *Reader) ReadBytes(recordNumber uint32, position, length int) ([]byte, error) {
	return r.value(recordNumber, position, length)
}

// ReadRecordID reads a 6 byte record identifier at the given offset
// within a record.
func (r *Reader) ReadRecordID(recordNumber uint32, offset int) (RecordID, error) {
	b, err := r.value(recordNumber, offset, RecordIDBytes)
	if err != nil {
		return RecordID{}, err
	}
	return DecodeRecordID(b), nil
}

// DecodeRecordID decodes the 6 byte wire form of a record identifier.
func DecodeRecordID(b []byte) RecordID {
	return RecordID{
		SegmentIndex: binary.BigEndian.Uint16(b),
		Number:       binary.BigEndian.Uint32(b[2:]),
	}
}

// AppendRecordID appends the 6 byte wire form of id to dst.
func AppendRecordID(dst []byte, id RecordID) []byte {
	dst = binary.BigEndian.AppendUint16(dst, id.SegmentIndex)
	return binary.BigEndian.AppendUint32(dst, id.Number)
}

// ReadLength reads the variable-length length field at the start of a
// record. The top bits of the first byte select the small, medium or
// long form; any other pattern is a decoding fault.
func (r *Reader) ReadLength(recordNumber uint32) (int64, error) {
	marker, err := r.ReadByte(recordNumber, 0)
	if err != nil {
		return 0, err
	}
	switch {
	case isSmallLength(marker):
		return int64(marker), nil
	case isMediumLength(marker):
		v, err := r.ReadShort(recordNumber, 0)
		if err != nil {
			return 0, err
		}
		return int64(v&MediumLengthMask) + MediumLengthDelta, nil
	case isLongLength(marker):
		v, err := r.ReadLong(recordNumber, 0)
		if err != nil {
			return 0, err
		}
		return int64(v&LongLengthMask) + LongLengthDelta, nil
	default:
		return 0, ErrInvalidLengthMarker
	}
}

// String is a decoded string record. Strings below MediumLimit are
// stored inline and carried in Value. Longer strings are stored out of
// line: ID points at a list of blocks holding the actual characters and
// Value is empty.
type String struct {
	Value  string
	ID     RecordID
	Length int64
	Long   bool
}

// ReadString reads the string record at recordNumber. For inline
// strings the UTF-8 bytes follow the length field; for long strings the
// record embeds a record identifier pointing at the payload.
func (r *Reader) ReadString(recordNumber uint32) (String, error) {
	length, err := r.ReadLength(recordNumber)
	if err != nil {
		return String{}, err
	}
	switch {
	case length < SmallLimit:
		b, err := r.value(recordNumber, SmallLengthSize, int(length))
		if err != nil {
			return String{}, err
		}
		return String{Value: string(b), Length: length}, nil
	case length < MediumLimit:
		b, err := r.value(recordNumber, MediumLengthSize, int(length))
		if err != nil {
			return String{}, err
		}
		return String{Value: string(b), Length: length}, nil
	case length < LongLengthLimit:
		id, err := r.ReadRecordID(recordNumber, LongLengthSize)
		if err != nil {
			return String{}, err
		}
		return String{ID: id, Length: length, Long: true}, nil
	default:
		return String{}, ErrInvalidLength
	}
}

// BlobID is a decoded blob identifier record. Small blob IDs carry the
// identifier bytes inline; long blob IDs reference a string record.
type BlobID struct {
	Value []byte
	ID    RecordID
	Long  bool
}

// ReadBlobID reads the blob identifier record at recordNumber.
func (r *Reader) ReadBlobID(recordNumber uint32) (BlobID, error) {
	marker, err := r.ReadByte(recordNumber, 0)
	if err != nil {
		return BlobID{}, err
	}
	switch {
	case isLongBlobID(marker):
		id, err := r.ReadRecordID(recordNumber, 1)
		if err != nil {
			return BlobID{}, err
		}
		return BlobID{ID: id, Long: true}, nil
	case isSmallBlobID(marker):
		v, err := r.ReadShort(recordNumber, 0)
		if err != nil {
			return BlobID{}, err
		}
		length := int(v & (SmallBlobIDLimit - 1))
		b, err := r.value(recordNumber, SmallBlobIDLengthSize, length)
		if err != nil {
			return BlobID{}, err
		}
		return BlobID{Value: b}, nil
	default:
		return BlobID{}, ErrInvalidBlobIDMarker
	}
}
