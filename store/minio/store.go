// Package minio provides a segment.Store backed by MinIO or any
// S3-compatible object storage reachable through the MinIO client.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/segstore/segment"
)

// Options configure a Store.
type Options struct {
	// CacheMB is the size of the segment cache in megabytes.
	CacheMB int

	// Logger receives cache and store diagnostics.
	Logger *slog.Logger

	// Prefix is prepended to all object keys, for example "segments/".
	Prefix string
}

// Store implements segment.Store over a MinIO bucket. One object per
// segment, keyed by the hex form of the segment ID.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger

	tracker *segment.Tracker
	cache   *segment.Cache
}

// New creates a store writing to the given bucket.
func New(client *minio.Client, bucket string, optFns ...func(o *Options)) *Store {
	opts := Options{
		CacheMB: segment.DefaultCacheMB,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		client: client,
		bucket: bucket,
		prefix: opts.Prefix,
		logger: logger,
		cache:  segment.NewCache(opts.CacheMB, opts.Logger),
	}
	s.tracker = segment.NewTracker(s.ReadSegment)
	return s
}

func (s *Store) key(id *segment.ID) string {
	return path.Join(s.prefix, fmt.Sprintf("%016x%016x.seg", id.MSB(), id.LSB()))
}

// ContainsSegment reports whether an object exists for the segment.
// Transport errors are reported as absence; the subsequent read
// surfaces them properly.
func (s *Store) ContainsSegment(id *segment.ID) bool {
	_, err := s.client.StatObject(context.Background(), s.bucket, s.key(id), minio.StatObjectOptions{})
	return err == nil
}

// ReadSegment returns the segment with the given ID, fetching the
// object on a cache miss.
func (s *Store) ReadSegment(id *segment.ID) (*segment.Segment, error) {
	return s.cache.GetSegment(id, func() (*segment.Segment, error) {
		obj, err := s.client.GetObject(context.Background(), s.bucket, s.key(id), minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		defer obj.Close()

		data, err := io.ReadAll(obj)
		if err != nil {
			if isNotFound(err) {
				return nil, &segment.NotFoundError{ID: id}
			}
			return nil, err
		}
		return segment.NewSegment(id, data)
	})
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

// WriteSegment uploads data under the segment's key.
func (s *Store) WriteSegment(id *segment.ID, data []byte) error {
	key := s.key(id)
	_, err := s.client.PutObject(context.Background(), s.bucket, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return err
	}
	s.logger.Debug("segment uploaded", "id", id, "key", key, "size", len(data))
	return nil
}

// Tracker returns the store's ID intern table.
func (s *Store) Tracker() *segment.Tracker { return s.tracker }

// CacheStats returns a snapshot of the segment cache counters.
func (s *Store) CacheStats() segment.CacheStats { return s.cache.Stats() }
