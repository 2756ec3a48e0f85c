package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/segstore/internal/mmap"
	"github.com/hupe1980/segstore/segment"
)

// Codec selects the on-disk encoding of segment files.
type Codec string

const (
	// CodecNone stores segments verbatim. Reads are memory-mapped.
	CodecNone Codec = "none"

	// CodecZstd compresses segments with zstandard.
	CodecZstd Codec = "zstd"

	// CodecLZ4 compresses segments with the lz4 frame format.
	CodecLZ4 Codec = "lz4"
)

const (
	extPlain = ".seg"
	extZstd  = ".seg.zst"
	extLZ4   = ".seg.lz4"
)

// ErrStoreClosed is returned when a FileStore is used after Close.
var ErrStoreClosed = errors.New("store: closed")

// FileStoreOptions configure a FileStore.
type FileStoreOptions struct {
	// CacheMB is the size of the segment cache in megabytes.
	CacheMB int

	// Logger receives cache and store diagnostics.
	Logger *slog.Logger

	// Codec is the encoding applied to newly written segments. Files
	// are always decoded by their extension, so a store can be
	// reopened with a different codec and still read older segments.
	Codec Codec

	// MaxConcurrentLoads bounds the number of segment files read from
	// disk at the same time.
	MaxConcurrentLoads int64

	// WriteBytesPerSecond throttles segment writes. Zero disables
	// throttling.
	WriteBytesPerSecond int
}

// FileStore persists one file per segment under a root directory.
// Uncompressed segments are read through memory mappings that stay
// alive until the store is closed, so parsed segments borrow their
// bytes from the page cache instead of the heap.
type FileStore struct {
	root    string
	codec   Codec
	logger  *slog.Logger
	tracker *segment.Tracker
	cache   *segment.Cache
	loads   *semaphore.Weighted
	limiter *rate.Limiter

	zenc *zstd.Encoder
	zdec *zstd.Decoder

	mu       sync.Mutex
	files    map[*segment.ID]string
	mappings []*mmap.Mapping
	closed   bool
}

// NewFileStore opens the store rooted at dir, creating the directory
// if needed and indexing any segment files already present.
func NewFileStore(dir string, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	opts := FileStoreOptions{
		CacheMB:            segment.DefaultCacheMB,
		Codec:              CodecNone,
		MaxConcurrentLoads: 16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		root:   dir,
		codec:  opts.Codec,
		logger: logger,
		cache:  segment.NewCache(opts.CacheMB, opts.Logger),
		loads:  semaphore.NewWeighted(opts.MaxConcurrentLoads),
		zenc:   zenc,
		zdec:   zdec,
		files:  make(map[*segment.ID]string),
	}
	if opts.WriteBytesPerSecond > 0 {
		burst := max(opts.WriteBytesPerSecond, segment.MaxSegmentSize)
		s.limiter = rate.NewLimiter(rate.Limit(opts.WriteBytesPerSecond), burst)
	}
	s.tracker = segment.NewTracker(s.ReadSegment)

	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan indexes existing segment files by their encoded IDs.
func (s *FileStore) scan() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := s.parseName(entry.Name())
		if !ok {
			continue
		}
		s.files[id] = entry.Name()
	}
	s.logger.Debug("file store opened", "dir", s.root, "segments", len(s.files))
	return nil
}

// parseName recovers a segment ID from a file name of the form
// <16 hex msb><16 hex lsb><ext>.
func (s *FileStore) parseName(name string) (*segment.ID, bool) {
	var base string
	switch {
	case strings.HasSuffix(name, extZstd):
		base = strings.TrimSuffix(name, extZstd)
	case strings.HasSuffix(name, extLZ4):
		base = strings.TrimSuffix(name, extLZ4)
	case strings.HasSuffix(name, extPlain):
		base = strings.TrimSuffix(name, extPlain)
	default:
		return nil, false
	}
	if len(base) != 32 {
		return nil, false
	}
	msb, err := strconv.ParseUint(base[:16], 16, 64)
	if err != nil {
		return nil, false
	}
	lsb, err := strconv.ParseUint(base[16:], 16, 64)
	if err != nil {
		return nil, false
	}
	return s.tracker.Intern(msb, lsb), true
}

func (s *FileStore) fileName(id *segment.ID) string {
	base := fmt.Sprintf("%016x%016x", id.MSB(), id.LSB())
	switch s.codec {
	case CodecZstd:
		return base + extZstd
	case CodecLZ4:
		return base + extLZ4
	default:
		return base + extPlain
	}
}

// ContainsSegment reports whether a file exists for the segment.
func (s *FileStore) ContainsSegment(id *segment.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[id]
	return ok
}

// ReadSegment returns the segment with the given ID, loading it from
// disk on a cache miss.
func (s *FileStore) ReadSegment(id *segment.ID) (*segment.Segment, error) {
	return s.cache.GetSegment(id, func() (*segment.Segment, error) {
		if err := s.loads.Acquire(context.Background(), 1); err != nil {
			return nil, err
		}
		defer s.loads.Release(1)
		return s.load(id)
	})
}

func (s *FileStore) load(id *segment.ID) (*segment.Segment, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	name, ok := s.files[id]
	s.mu.Unlock()
	if !ok {
		return nil, &segment.NotFoundError{ID: id}
	}

	path := filepath.Join(s.root, name)
	data, err := s.decode(path, name)
	if err != nil {
		return nil, err
	}
	return segment.NewSegment(id, data)
}

// decode reads a segment file, picking the codec by extension.
func (s *FileStore) decode(path, name string) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, extZstd):
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return s.zdec.DecodeAll(raw, nil)

	case strings.HasSuffix(name, extLZ4):
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))

	default:
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.mappings = append(s.mappings, m)
		s.mu.Unlock()
		return m.Bytes(), nil
	}
}

// encode applies the configured codec to a segment payload.
func (s *FileStore) encode(data []byte) ([]byte, error) {
	switch s.codec {
	case CodecZstd:
		return s.zenc.EncodeAll(data, nil), nil

	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return data, nil
	}
}

// WriteSegment writes the segment to a temporary file, syncs it, and
// renames it into place. The write is throttled when a byte-rate limit
// is configured.
func (s *FileStore) WriteSegment(id *segment.ID, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()

	encoded, err := s.encode(data)
	if err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.WaitN(context.Background(), len(encoded)); err != nil {
			return err
		}
	}

	name := s.fileName(id)
	path := filepath.Join(s.root, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	s.mu.Lock()
	s.files[id] = name
	s.mu.Unlock()

	s.logger.Debug("segment written", "id", id, "file", name, "size", len(encoded))
	return nil
}

// Tracker returns the store's ID intern table.
func (s *FileStore) Tracker() *segment.Tracker { return s.tracker }

// CacheStats returns a snapshot of the segment cache counters.
func (s *FileStore) CacheStats() segment.CacheStats { return s.cache.Stats() }

// Len returns the number of indexed segment files.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Close drops the cache and unmaps all mapped segment files. Segments
// read from uncompressed files must not be used after Close.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	mappings := s.mappings
	s.mappings = nil
	s.mu.Unlock()

	s.cache.Clear()

	var errs []error
	for _, m := range mappings {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
