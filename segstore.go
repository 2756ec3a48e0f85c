// Package segstore implements an append-only segment storage engine.
//
// Records are packed into immutable segments of at most 256 KiB and
// addressed by record IDs that pair a 128-bit segment identity with a
// record number. Reads go through a weighted segment cache with a
// per-ID fast path; writes go through pooled buffer writers that pack
// records back to front and intern recently written values.
//
// A SegStore ties the pieces together over a segment.Store backend:
//
//	db := segstore.OpenMemStore()
//	defer db.Close()
//
//	rid, err := db.WriteString("hello")
//	if err != nil {
//	    panic(err)
//	}
//	if err := db.Flush(ctx); err != nil {
//	    panic(err)
//	}
//	value, err := db.ReadString(rid)
//
// Durable backends live in the store package (files with optional
// compression) and its s3 and minio subpackages.
package segstore

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segstore/segment"
	"github.com/hupe1980/segstore/store"
)

const defaultWriterName = "W"

// SegStore is the engine facade. It owns a set of named writers over a
// shared segment store and exposes record-level reads and writes.
//
// All methods are safe for concurrent use.
type SegStore struct {
	store        segment.Store
	logger       *Logger
	generation   func() uint32
	writerConfig segment.WriterConfig

	mu      sync.Mutex
	pools   map[string]*segment.WriterPool
	writers map[string]*segment.Writer
}

// Open creates an engine over an existing store.
func Open(s segment.Store, optFns ...Option) *SegStore {
	opts := applyOptions(optFns)
	return &SegStore{
		store:        s,
		logger:       opts.logger,
		generation:   opts.generation,
		writerConfig: opts.writerConfig,
		pools:        make(map[string]*segment.WriterPool),
		writers:      make(map[string]*segment.Writer),
	}
}

// OpenMemStore creates an engine over a fresh in-memory store.
func OpenMemStore(optFns ...Option) *SegStore {
	opts := applyOptions(optFns)
	s := store.NewMemStore(func(o *store.MemStoreOptions) {
		o.CacheMB = opts.segmentCacheMB
		o.Logger = opts.logger.Logger
	})
	return Open(s, optFns...)
}

// OpenFileStore creates an engine over a file store rooted at dir. For
// codec or throttling control, build the store directly and use Open.
func OpenFileStore(dir string, optFns ...Option) (*SegStore, error) {
	opts := applyOptions(optFns)
	s, err := store.NewFileStore(dir, func(o *store.FileStoreOptions) {
		o.CacheMB = opts.segmentCacheMB
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}
	return Open(s, optFns...), nil
}

// Store returns the underlying segment store.
func (s *SegStore) Store() segment.Store { return s.store }

// Tracker returns the store's segment ID intern table.
func (s *SegStore) Tracker() *segment.Tracker { return s.store.Tracker() }

// Writer returns the named writer, creating it on first use. Separate
// writers keep separate segment buffers, so subsystems with different
// write patterns do not interleave records in the same segments.
func (s *SegStore) Writer(name string) *segment.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[name]; ok {
		return w
	}
	pool := segment.NewWriterPool(s.store, name, s.generation, s.logger.Logger)
	w := segment.NewWriter(pool, s.writerConfig)
	s.pools[name] = pool
	s.writers[name] = w
	return w
}

// WriteString writes a string record using the default writer.
func (s *SegStore) WriteString(value string) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteString(value)
}

// WriteBlock writes a raw block record using the default writer.
func (s *SegStore) WriteBlock(data []byte) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteBlock(data)
}

// WriteBlobID writes a blob ID record using the default writer.
func (s *SegStore) WriteBlobID(blobID string) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteBlobID(blobID)
}

// WriteList writes a list record using the default writer.
func (s *SegStore) WriteList(ids []segment.RecordID) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteList(ids)
}

// WriteMapLeaf writes a map leaf record using the default writer.
func (s *SegStore) WriteMapLeaf(level int, entries []segment.MapEntry) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteMapLeaf(level, entries)
}

// WriteMapBranch writes a map branch record using the default writer.
func (s *SegStore) WriteMapBranch(level, count int, bitmap uint32, buckets []segment.RecordID) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteMapBranch(level, count, bitmap, buckets)
}

// WriteTemplate writes a template record using the default writer.
func (s *SegStore) WriteTemplate(t *segment.Template) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteTemplate(t)
}

// WriteNode writes a node record using the default writer.
func (s *SegStore) WriteNode(stableID segment.RecordID, depth int, ids []segment.RecordID) (segment.RecordID, error) {
	return s.Writer(defaultWriterName).WriteNode(stableID, depth, ids)
}

// reader resolves the segment holding rid and returns a record reader
// over it.
func (s *SegStore) reader(rid segment.RecordID) (*segment.Reader, error) {
	seg, err := rid.ID.GetSegment()
	if err != nil {
		if nf, ok := AsNotFound(err); ok {
			s.logger.LogSegmentNotFound(context.Background(), nf.ID.String(), nf.ID.GCInfo())
		}
		return nil, err
	}
	return seg.Reader()
}

// ReadString reads back a string record.
func (s *SegStore) ReadString(rid segment.RecordID) (string, error) {
	r, err := s.reader(rid)
	if err != nil {
		return "", err
	}
	return r.ReadString(rid.Number)
}

// ReadLength reads the length header of a value record without
// materializing the value.
func (s *SegStore) ReadLength(rid segment.RecordID) (int64, error) {
	r, err := s.reader(rid)
	if err != nil {
		return 0, err
	}
	return r.ReadLength(rid.Number)
}

// ReadBlobID reads back a blob ID record.
func (s *SegStore) ReadBlobID(rid segment.RecordID) (string, error) {
	r, err := s.reader(rid)
	if err != nil {
		return "", err
	}
	return r.ReadBlobID(rid.Number)
}

// ReadTemplate reads back a template record.
func (s *SegStore) ReadTemplate(rid segment.RecordID) (*segment.Template, error) {
	r, err := s.reader(rid)
	if err != nil {
		return nil, err
	}
	return r.ReadTemplate(rid.Number)
}

// Flush emits the buffered segments of all writers. Pools flush in
// parallel; the call returns after every pool has drained or the
// context is done.
func (s *SegStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	pools := make([]*segment.WriterPool, 0, len(s.pools))
	for _, pool := range s.pools {
		pools = append(pools, pool)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, pool := range pools {
		g.Go(func() error {
			return pool.Flush(ctx)
		})
	}
	err := g.Wait()
	s.logger.LogFlush(ctx, len(pools), err)
	return err
}

// Close flushes all writers. The engine must not be used afterwards if
// the underlying store is closed by the caller.
func (s *SegStore) Close() error {
	return s.Flush(context.Background())
}
