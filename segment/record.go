package segment

import "fmt"

// RecordType classifies the records inside a data segment. The type
// determines how a record's bytes are decoded; addressing is uniform
// across all types.
type RecordType uint8

const (
	// RecordTypeLeaf is a map leaf holding sorted key hashes and entry
	// record IDs.
	RecordTypeLeaf RecordType = iota

	// RecordTypeBranch is an interior map node holding a bucket bitmap
	// and bucket record IDs.
	RecordTypeBranch

	// RecordTypeBucket is a raw run of record IDs, the building block of
	// list records.
	RecordTypeBucket

	// RecordTypeList is the root bucket of a list of record IDs.
	RecordTypeList

	// RecordTypeValue is a string or binary value: a length header
	// followed by inline bytes or a pointer to a block list.
	RecordTypeValue

	// RecordTypeTemplate describes the shape of a node: primary type,
	// mixins, child-node mode and property layout.
	RecordTypeTemplate

	// RecordTypeNode is a node record: a stable ID followed by the
	// template ID and the IDs of children and property values.
	RecordTypeNode

	// RecordTypeBlock is a raw run of bytes without a header, used for
	// the chunks of large values.
	RecordTypeBlock
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeLeaf:
		return "leaf"
	case RecordTypeBranch:
		return "branch"
	case RecordTypeBucket:
		return "bucket"
	case RecordTypeList:
		return "list"
	case RecordTypeValue:
		return "value"
	case RecordTypeTemplate:
		return "template"
	case RecordTypeNode:
		return "node"
	case RecordTypeBlock:
		return "block"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// RecordID addresses a record inside a segment. On the wire a record ID
// occupies six bytes: a two byte index into the enclosing segment's
// reference table and the four byte record number. In memory the index
// is resolved to the interned segment ID.
type RecordID struct {
	ID     *ID
	Number uint32
}

func (r RecordID) String() string {
	return fmt.Sprintf("%v:%d", r.ID, r.Number)
}

// Equal reports whether two record IDs address the same record. Segment
// IDs are interned per store, so pointer comparison suffices.
func (r RecordID) Equal(other RecordID) bool {
	return r.ID == other.ID && r.Number == other.Number
}
