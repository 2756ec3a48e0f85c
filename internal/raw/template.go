package raw

import (
	"encoding/binary"
	"errors"
)

const (
	// MaxTemplateMixins is the largest number of mixin types a template
	// can carry; the count is stored in 10 header bits.
	MaxTemplateMixins = (1 << 10) - 1

	// MaxTemplateProperties is the largest number of properties a
	// template can carry; the count is stored in 18 header bits.
	MaxTemplateProperties = (1 << 18) - 1

	templateHeaderSize = 4

	templatePrimaryType    = 1 << 31
	templateMixinTypes     = 1 << 30
	templateNoChildNodes   = 1 << 29
	templateManyChildNodes = 1 << 28
)

// ErrInvalidTemplate is returned when a template violates its structural
// bounds or combines mutually exclusive child-node modes.
var ErrInvalidTemplate = errors.New("raw: invalid template")

// Template is the compact description of a node's shape: its primary
// type, mixin types, child-node mode and property layout. Record IDs
// point at string and list records in the enclosing or referenced
// segments.
//
// At most one of NoChildNodes, ManyChildNodes and a non-nil
// ChildNodeName holds; ChildNodeName is only present when neither flag
// is set.
type Template struct {
	PrimaryType    *RecordID
	Mixins         []RecordID
	NoChildNodes   bool
	ManyChildNodes bool
	ChildNodeName  *RecordID
	PropertyNames  *RecordID
	PropertyTypes  []byte
}

func (t *Template) validate() error {
	if t.NoChildNodes && t.ManyChildNodes {
		return ErrInvalidTemplate
	}
	if t.ChildNodeName != nil && (t.NoChildNodes || t.ManyChildNodes) {
		return ErrInvalidTemplate
	}
	if !t.NoChildNodes && !t.ManyChildNodes && t.ChildNodeName == nil {
		return ErrInvalidTemplate
	}
	if len(t.Mixins) > MaxTemplateMixins {
		return ErrInvalidTemplate
	}
	if len(t.PropertyTypes) > MaxTemplateProperties {
		return ErrInvalidTemplate
	}
	if len(t.PropertyTypes) > 0 && t.PropertyNames == nil {
		return ErrInvalidTemplate
	}
	return nil
}

// Size reports the encoded size of the template in bytes.
func (t *Template) Size() (int, error) {
	if err := t.validate(); err != nil {
		return 0, err
	}
	size := templateHeaderSize
	if t.PrimaryType != nil {
		size += RecordIDBytes
	}
	size += len(t.Mixins) * RecordIDBytes
	if t.ChildNodeName != nil {
		size += RecordIDBytes
	}
	if len(t.PropertyTypes) > 0 {
		size += RecordIDBytes + len(t.PropertyTypes)
	}
	return size, nil
}

// RefCount reports how many record IDs the encoded template embeds.
func (t *Template) RefCount() int {
	refs := len(t.Mixins)
	if t.PrimaryType != nil {
		refs++
	}
	if t.ChildNodeName != nil {
		refs++
	}
	if len(t.PropertyTypes) > 0 {
		refs++
	}
	return refs
}

// AppendTemplate appends the encoded form of t to dst.
//
// The layout is a 32 bit header followed by the optional primary type
// ID, the mixin IDs, the sole-child name ID, the property-name list ID
// and one type byte per property. The header packs four flags, a 10 bit
// mixin count and an 18 bit property count:
//
//	ABCD EEEE  EEEE EEFF  FFFF FFFF  FFFF FFFF
//
// where A marks a primary type, B marks mixins, C marks a childless
// node, D marks multiple child nodes, E counts mixins and F counts
// properties.
func AppendTemplate(dst []byte, t *Template) ([]byte, error) {
	if err := t.validate(); err != nil {
		return dst, err
	}

	header := uint32(len(t.Mixins))<<18 | uint32(len(t.PropertyTypes))
	if t.PrimaryType != nil {
		header |= templatePrimaryType
	}
	if len(t.Mixins) > 0 {
		header |= templateMixinTypes
	}
	if t.NoChildNodes {
		header |= templateNoChildNodes
	}
	if t.ManyChildNodes {
		header |= templateManyChildNodes
	}
	dst = binary.BigEndian.AppendUint32(dst, header)

	if t.PrimaryType != nil {
		dst = AppendRecordID(dst, *t.PrimaryType)
	}
	for _, m := range t.Mixins {
		dst = AppendRecordID(dst, m)
	}
	if t.ChildNodeName != nil {
		dst = AppendRecordID(dst, *t.ChildNodeName)
	}
	if len(t.PropertyTypes) > 0 {
		dst = AppendRecordID(dst, *t.PropertyNames)
		dst = append(dst, t.PropertyTypes...)
	}
	return dst, nil
}

// ReadTemplate reads the template record at recordNumber. Fields are
// consumed in the fixed order declared by the header.
func (r *Reader) ReadTemplate(recordNumber uint32) (*Template, error) {
	header, err := r.ReadInt(recordNumber, 0)
	if err != nil {
		return nil, err
	}

	t := &Template{
		NoChildNodes:   header&templateNoChildNodes != 0,
		ManyChildNodes: header&templateManyChildNodes != 0,
	}
	mixinCount := int(header>>18) & MaxTemplateMixins
	propertyCount := int(header) & MaxTemplateProperties
	offset := templateHeaderSize

	if header&templatePrimaryType != 0 {
		id, err := r.ReadRecordID(recordNumber, offset)
		if err != nil {
			return nil, err
		}
		t.PrimaryType = &id
		offset += RecordIDBytes
	}

	if header&templateMixinTypes != 0 {
		t.Mixins = make([]RecordID, mixinCount)
		for i := range t.Mixins {
			id, err := r.ReadRecordID(recordNumber, offset)
			if err != nil {
				return nil, err
			}
			t.Mixins[i] = id
			offset += RecordIDBytes
		}
	}

	if !t.NoChildNodes && !t.ManyChildNodes {
		id, err := r.ReadRecordID(recordNumber, offset)
		if err != nil {
			return nil, err
		}
		t.ChildNodeName = &id
		offset += RecordIDBytes
	}

	if propertyCount > 0 {
		id, err := r.ReadRecordID(recordNumber, offset)
		if err != nil {
			return nil, err
		}
		t.PropertyNames = &id
		offset += RecordIDBytes

		t.PropertyTypes = make([]byte, propertyCount)
		for i := range t.PropertyTypes {
			b, err := r.ReadByte(recordNumber, offset)
			if err != nil {
				return nil, err
			}
			t.PropertyTypes[i] = b
			offset++
		}
	}

	return t, nil
}
