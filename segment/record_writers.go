package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/segstore/internal/raw"
)

const (
	mapSizeBits = 28

	// MaxMapSize is the largest entry count a map record can declare;
	// the count shares a 32 bit header word with the map level.
	MaxMapSize = 1<<mapSizeBits - 1
)

// ErrEmptyList is returned when a list record is written without
// entries. Empty lists have no record; callers represent them as the
// absence of a list ID.
var ErrEmptyList = errors.New("segment: empty list")

// MapEntry is one key-value pair of a map record. Hash orders the
// entries within a leaf.
type MapEntry struct {
	Hash  uint32
	Key   RecordID
	Value RecordID
}

// writeValue writes an inline value record. The data must be short
// enough for the small or medium length form.
func writeValue(bw *BufferWriter, data []byte) (RecordID, error) {
	var rid RecordID
	w := &raw.Writer{Prepare: func(typ uint8, size, _ int) ([]byte, error) {
		var buf []byte
		var err error
		rid, buf, err = bw.Prepare(RecordType(typ), size, nil)
		return buf, err
	}}
	if err := w.WriteValue(uint8(RecordTypeValue), data); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// writeLongValue writes a value record for out-of-line data of the
// given length reachable through the block list rooted at listID.
func writeLongValue(bw *BufferWriter, listID RecordID, length int64) (RecordID, error) {
	if length < raw.MediumLimit || length >= raw.LongLengthLimit {
		return RecordID{}, raw.ErrInvalidLength
	}
	rid, buf, err := bw.Prepare(RecordTypeValue,
		raw.LongLengthSize+raw.RecordIDBytes, []*ID{listID.ID})
	if err != nil {
		return RecordID{}, err
	}
	b, err := raw.AppendLength(buf[:0], length)
	if err != nil {
		return RecordID{}, err
	}
	if _, err := bw.appendRecordID(b, listID); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// writeBlock writes a raw block record.
func writeBlock(bw *BufferWriter, data []byte) (RecordID, error) {
	var rid RecordID
	w := &raw.Writer{Prepare: func(typ uint8, size, _ int) ([]byte, error) {
		var buf []byte
		var err error
		rid, buf, err = bw.Prepare(RecordType(typ), size, nil)
		return buf, err
	}}
	if err := w.WriteBlock(uint8(RecordTypeBlock), data); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// writeBlobID writes a blob identifier record carrying blobID in place.
func writeBlobID(bw *BufferWriter, blobID []byte) (RecordID, error) {
	var rid RecordID
	w := &raw.Writer{Prepare: func(typ uint8, size, _ int) ([]byte, error) {
		var buf []byte
		var err error
		rid, buf, err = bw.Prepare(RecordType(typ), size, nil)
		return buf, err
	}}
	if err := w.WriteBlobID(uint8(RecordTypeValue), blobID); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// writeLongBlobID writes a blob identifier record referencing the
// string record holding the identifier text.
func writeLongBlobID(bw *BufferWriter, stringID RecordID) (RecordID, error) {
	rid, buf, err := bw.Prepare(RecordTypeValue, 1+raw.RecordIDBytes, []*ID{stringID.ID})
	if err != nil {
		return RecordID{}, err
	}
	buf[0] = 0xF0
	if _, err := bw.appendRecordID(buf[1:1], stringID); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// writeString writes a string record. Strings below the medium length
// limit are stored inline; longer strings are chunked into block
// records collected by a list record, and the string record stores the
// long length header with a pointer to the list.
func writeString(bw *BufferWriter, s string) (RecordID, error) {
	data := []byte(s)
	if len(data) < raw.MediumLimit {
		return writeValue(bw, data)
	}
	if int64(len(data)) >= raw.LongLengthLimit {
		return RecordID{}, fmt.Errorf("%w: string of %d bytes", raw.ErrInvalidLength, len(data))
	}

	blocks := make([]RecordID, 0, (len(data)+BlockSize-1)/BlockSize)
	for start := 0; start < len(data); start += BlockSize {
		end := min(start+BlockSize, len(data))
		bid, err := writeBlock(bw, data[start:end])
		if err != nil {
			return RecordID{}, err
		}
		blocks = append(blocks, bid)
	}

	listID, err := writeList(bw, blocks)
	if err != nil {
		return RecordID{}, err
	}
	return writeLongValue(bw, listID, int64(len(data)))
}

// writeBucket writes one bucket of a list: a run of record IDs.
func writeBucket(bw *BufferWriter, typ RecordType, ids []RecordID) (RecordID, error) {
	refs := make([]*ID, len(ids))
	for i, id := range ids {
		refs[i] = id.ID
	}
	rid, buf, err := bw.Prepare(typ, raw.RecordIDBytes*len(ids), refs)
	if err != nil {
		return RecordID{}, err
	}
	b := buf[:0]
	for _, id := range ids {
		if b, err = bw.appendRecordID(b, id); err != nil {
			return RecordID{}, err
		}
	}
	return rid, nil
}

// writeList writes the list collecting ids: a bucket tree with fan-out
// 255. A single-entry list is the entry itself, with no record written.
func writeList(bw *BufferWriter, ids []RecordID) (RecordID, error) {
	if len(ids) == 0 {
		return RecordID{}, ErrEmptyList
	}

	for len(ids) > 1 {
		top := len(ids) <= listFanOut
		next := make([]RecordID, 0, (len(ids)+listFanOut-1)/listFanOut)
		for start := 0; start < len(ids); start += listFanOut {
			end := min(start+listFanOut, len(ids))
			chunk := ids[start:end]
			if len(chunk) == 1 {
				next = append(next, chunk[0])
				continue
			}
			typ := RecordTypeBucket
			if top {
				typ = RecordTypeList
			}
			bid, err := writeBucket(bw, typ, chunk)
			if err != nil {
				return RecordID{}, err
			}
			next = append(next, bid)
		}
		ids = next
	}
	return ids[0], nil
}

// writeMapLeaf writes a map leaf record: a header packing the level and
// entry count, the entry hashes in ascending order, then the key and
// value record IDs in matching order.
func writeMapLeaf(bw *BufferWriter, level int, entries []MapEntry) (RecordID, error) {
	if len(entries) > MaxMapSize {
		return RecordID{}, fmt.Errorf("segment: map of %d entries too large", len(entries))
	}

	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Hash != sorted[j].Hash {
			return sorted[i].Hash < sorted[j].Hash
		}
		return sorted[i].Key.Number < sorted[j].Key.Number
	})

	refs := make([]*ID, 0, 2*len(sorted))
	for _, e := range sorted {
		refs = append(refs, e.Key.ID, e.Value.ID)
	}

	size := 4 + len(sorted)*(4+2*raw.RecordIDBytes)
	rid, buf, err := bw.Prepare(RecordTypeLeaf, size, refs)
	if err != nil {
		return RecordID{}, err
	}

	b := binary.BigEndian.AppendUint32(buf[:0], uint32(level)<<mapSizeBits|uint32(len(sorted)))
	for _, e := range sorted {
		b = binary.BigEndian.AppendUint32(b, e.Hash)
	}
	for _, e := range sorted {
		if b, err = bw.appendRecordID(b, e.Key); err != nil {
			return RecordID{}, err
		}
	}
	for _, e := range sorted {
		if b, err = bw.appendRecordID(b, e.Value); err != nil {
			return RecordID{}, err
		}
	}
	return rid, nil
}

// writeMapBranch writes an interior map record: the packed level and
// total entry count, the bucket occupancy bitmap, and one record ID per
// set bitmap bit.
func writeMapBranch(bw *BufferWriter, level, count int, bitmap uint32, buckets []RecordID) (RecordID, error) {
	if count > MaxMapSize {
		return RecordID{}, fmt.Errorf("segment: map of %d entries too large", count)
	}

	refs := make([]*ID, len(buckets))
	for i, id := range buckets {
		refs[i] = id.ID
	}
	size := 4 + 4 + len(buckets)*raw.RecordIDBytes
	rid, buf, err := bw.Prepare(RecordTypeBranch, size, refs)
	if err != nil {
		return RecordID{}, err
	}

	b := binary.BigEndian.AppendUint32(buf[:0], uint32(level)<<mapSizeBits|uint32(count))
	b = binary.BigEndian.AppendUint32(b, bitmap)
	for _, id := range buckets {
		if b, err = bw.appendRecordID(b, id); err != nil {
			return RecordID{}, err
		}
	}
	return rid, nil
}

// writeTemplate writes a template record.
func writeTemplate(bw *BufferWriter, t *Template) (RecordID, error) {
	var refs []*ID
	addRef := func(rid *RecordID) {
		if rid != nil {
			refs = append(refs, rid.ID)
		}
	}
	addRef(t.PrimaryType)
	for i := range t.Mixins {
		refs = append(refs, t.Mixins[i].ID)
	}
	addRef(t.ChildNodeName)
	addRef(t.PropertyNames)

	// Sizing and validation do not depend on the reference indexes, so
	// a provisional encoding with zero indexes suffices before Prepare.
	provisional, err := rawTemplate(t, func(RecordID) (raw.RecordID, error) {
		return raw.RecordID{}, nil
	})
	if err != nil {
		return RecordID{}, err
	}
	size, err := provisional.Size()
	if err != nil {
		return RecordID{}, err
	}

	rid, buf, err := bw.Prepare(RecordTypeTemplate, size, refs)
	if err != nil {
		return RecordID{}, err
	}

	resolved, err := rawTemplate(t, bw.rawRecordID)
	if err != nil {
		return RecordID{}, err
	}
	if _, err := raw.AppendTemplate(buf[:0], resolved); err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

func rawTemplate(t *Template, resolve func(RecordID) (raw.RecordID, error)) (*raw.Template, error) {
	rt := &raw.Template{
		NoChildNodes:   t.NoChildNodes,
		ManyChildNodes: t.ManyChildNodes,
		PropertyTypes:  t.PropertyTypes,
	}

	var err error
	opt := func(rid *RecordID) (*raw.RecordID, error) {
		if rid == nil {
			return nil, nil
		}
		id, err := resolve(*rid)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}

	if rt.PrimaryType, err = opt(t.PrimaryType); err != nil {
		return nil, err
	}
	if len(t.Mixins) > 0 {
		rt.Mixins = make([]raw.RecordID, len(t.Mixins))
		for i, m := range t.Mixins {
			if rt.Mixins[i], err = resolve(m); err != nil {
				return nil, err
			}
		}
	}
	if rt.ChildNodeName, err = opt(t.ChildNodeName); err != nil {
		return nil, err
	}
	if rt.PropertyNames, err = opt(t.PropertyNames); err != nil {
		return nil, err
	}
	return rt, nil
}

// writeNode writes a node record: the node's stable ID followed by the
// template ID and the IDs of its children and property values.
func writeNode(bw *BufferWriter, stableID RecordID, ids []RecordID) (RecordID, error) {
	all := make([]RecordID, 0, 1+len(ids))
	all = append(all, stableID)
	all = append(all, ids...)

	refs := make([]*ID, len(all))
	for i, id := range all {
		refs[i] = id.ID
	}

	rid, buf, err := bw.Prepare(RecordTypeNode, raw.RecordIDBytes*len(all), refs)
	if err != nil {
		return RecordID{}, err
	}
	b := buf[:0]
	for _, id := range all {
		if b, err = bw.appendRecordID(b, id); err != nil {
			return RecordID{}, err
		}
	}
	return rid, nil
}
