package segment

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/segstore/internal/cache"
	"github.com/hupe1980/segstore/internal/raw"
)

// Default sizes of the writer-side interning caches.
const (
	DefaultStringsCacheSize   = 15000
	DefaultTemplatesCacheSize = 3000
	DefaultNodesCacheSize     = 1_000_000
	DefaultNodesCacheDepth    = 20
)

// WriterConfig sizes the writer's interning caches. A size of zero or
// less disables the cache.
type WriterConfig struct {
	StringsCacheSize   int
	TemplatesCacheSize int
	NodesCacheSize     int
	NodesCacheDepth    int
}

// DefaultWriterConfig returns the default cache sizes.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		StringsCacheSize:   DefaultStringsCacheSize,
		TemplatesCacheSize: DefaultTemplatesCacheSize,
		NodesCacheSize:     DefaultNodesCacheSize,
		NodesCacheDepth:    DefaultNodesCacheDepth,
	}
}

// Writer is the record-level write API. Writes run on a pooled
// BufferWriter so concurrent callers build separate segments, and
// recently written strings, templates and nodes are interned: writing
// an equal value again returns the existing record ID instead of a new
// record.
type Writer struct {
	pool *WriterPool

	strings   *cache.RecordCache[RecordID]
	templates *cache.RecordCache[RecordID]
	nodes     *cache.NodeCache[RecordID]

	tokens sync.Pool
}

// NewWriter creates a writer over pool with the given cache sizes.
func NewWriter(pool *WriterPool, cfg WriterConfig) *Writer {
	return &Writer{
		pool:      pool,
		strings:   cache.NewRecordCache[RecordID](cfg.StringsCacheSize),
		templates: cache.NewRecordCache[RecordID](cfg.TemplatesCacheSize),
		nodes:     cache.NewNodeCache[RecordID](cfg.NodesCacheSize, cfg.NodesCacheDepth),
		tokens:    sync.Pool{New: func() any { return new(int) }},
	}
}

// execute runs op on a pooled writer under a per-call affinity token.
// Tokens are recycled, so an uncontended caller keeps filling the same
// segment across calls.
func (w *Writer) execute(op func(*BufferWriter) error) error {
	token := w.tokens.Get()
	defer w.tokens.Put(token)
	return w.pool.Execute(token, op)
}

// WriteString writes a string record and returns its ID. Rewriting a
// recently written string returns the existing ID.
func (w *Writer) WriteString(s string) (RecordID, error) {
	if rid, ok := w.strings.Get(s); ok {
		return rid, nil
	}

	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeString(bw, s)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	w.strings.Put(s, rid)
	return rid, nil
}

// WriteBlock writes a raw block record.
func (w *Writer) WriteBlock(data []byte) (RecordID, error) {
	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeBlock(bw, data)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// WriteBlobID writes a blob identifier record. Identifiers short enough
// for the in-place form are stored inline; longer identifiers are
// written as a string record referenced by the blob ID record.
func (w *Writer) WriteBlobID(blobID string) (RecordID, error) {
	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		if len(blobID) < raw.SmallBlobIDLimit {
			rid, err = writeBlobID(bw, []byte(blobID))
			return err
		}
		stringID, err := writeString(bw, blobID)
		if err != nil {
			return err
		}
		rid, err = writeLongBlobID(bw, stringID)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// WriteList writes the list record collecting ids.
func (w *Writer) WriteList(ids []RecordID) (RecordID, error) {
	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeList(bw, ids)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// WriteMapLeaf writes a map leaf record holding entries at the given
// level.
func (w *Writer) WriteMapLeaf(level int, entries []MapEntry) (RecordID, error) {
	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeMapLeaf(bw, level, entries)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// WriteMapBranch writes an interior map record covering count entries
// through the buckets selected by bitmap.
func (w *Writer) WriteMapBranch(level, count int, bitmap uint32, buckets []RecordID) (RecordID, error) {
	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeMapBranch(bw, level, count, bitmap, buckets)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// WriteTemplate writes a template record. Rewriting a recently written
// template returns the existing ID.
func (w *Writer) WriteTemplate(t *Template) (RecordID, error) {
	key := templateKey(t)
	if rid, ok := w.templates.Get(key); ok {
		return rid, nil
	}

	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeTemplate(bw, t)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	w.templates.Put(key, rid)
	return rid, nil
}

// WriteNode writes a node record for the node with the given stable ID
// at the given depth. Rewriting a node that was recently written at a
// cached depth returns the existing ID.
func (w *Writer) WriteNode(stableID RecordID, depth int, ids []RecordID) (RecordID, error) {
	key := stableID.String()
	if rid, ok := w.nodes.Get(key, depth); ok {
		return rid, nil
	}

	var rid RecordID
	err := w.execute(func(bw *BufferWriter) error {
		var err error
		rid, err = writeNode(bw, stableID, ids)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	w.nodes.Put(key, depth, rid)
	return rid, nil
}

// Flush quiesces and emits every buffered segment through the pool.
func (w *Writer) Flush(ctx context.Context) error {
	return w.pool.Flush(ctx)
}

// templateKey derives the interning key of a template from its resolved
// record IDs and flags, independent of any segment's reference table.
func templateKey(t *Template) string {
	var sb strings.Builder
	app := func(rid *RecordID) {
		if rid != nil {
			sb.WriteString(rid.String())
		}
		sb.WriteByte('|')
	}
	app(t.PrimaryType)
	for i := range t.Mixins {
		app(&t.Mixins[i])
	}
	app(t.ChildNodeName)
	app(t.PropertyNames)
	if t.NoChildNodes {
		sb.WriteByte('n')
	}
	if t.ManyChildNodes {
		sb.WriteByte('m')
	}
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(len(t.PropertyTypes)))
	for _, b := range t.PropertyTypes {
		sb.WriteByte(b)
	}
	return sb.String()
}
