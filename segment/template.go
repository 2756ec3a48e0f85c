package segment

import "github.com/hupe1980/segstore/internal/raw"

// Template describes the shape of a node: its primary type, mixin
// types, child-node mode and property layout. Record IDs point at
// string and list records, resolved against their segments.
//
// At most one of NoChildNodes, ManyChildNodes and a non-nil
// ChildNodeName holds.
type Template struct {
	PrimaryType    *RecordID
	Mixins         []RecordID
	NoChildNodes   bool
	ManyChildNodes bool
	ChildNodeName  *RecordID
	PropertyNames  *RecordID
	PropertyTypes  []byte
}

func (r *Reader) resolveTemplate(t *raw.Template) (*Template, error) {
	out := &Template{
		NoChildNodes:   t.NoChildNodes,
		ManyChildNodes: t.ManyChildNodes,
		PropertyTypes:  t.PropertyTypes,
	}

	resolveOpt := func(id *raw.RecordID) (*RecordID, error) {
		if id == nil {
			return nil, nil
		}
		rid, err := r.resolve(*id)
		if err != nil {
			return nil, err
		}
		return &rid, nil
	}

	var err error
	if out.PrimaryType, err = resolveOpt(t.PrimaryType); err != nil {
		return nil, err
	}
	if len(t.Mixins) > 0 {
		out.Mixins = make([]RecordID, len(t.Mixins))
		for i, m := range t.Mixins {
			if out.Mixins[i], err = r.resolve(m); err != nil {
				return nil, err
			}
		}
	}
	if out.ChildNodeName, err = resolveOpt(t.ChildNodeName); err != nil {
		return nil, err
	}
	if out.PropertyNames, err = resolveOpt(t.PropertyNames); err != nil {
		return nil, err
	}
	return out, nil
}
