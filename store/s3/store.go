// Package s3 provides a segment.Store backed by Amazon S3. Segments
// are immutable, so every object is written exactly once and never
// overwritten with different content.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/segstore/segment"
)

// Client is the subset of the S3 API the store uses. *s3.Client
// satisfies it; tests substitute a mock.
type Client interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options configure a Store.
type Options struct {
	// CacheMB is the size of the segment cache in megabytes.
	CacheMB int

	// Logger receives cache and store diagnostics.
	Logger *slog.Logger

	// Prefix is prepended to all object keys, for example "segments/".
	Prefix string
}

// Store implements segment.Store over an S3 bucket. One object per
// segment, keyed by the hex form of the segment ID.
type Store struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger

	tracker *segment.Tracker
	cache   *segment.Cache
}

// New creates a store writing to the given bucket.
func New(client Client, bucket string, optFns ...func(o *Options)) *Store {
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
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   opts.Prefix,
		logger:   logger,
		cache:    segment.NewCache(opts.CacheMB, opts.Logger),
	}
	s.tracker = segment.NewTracker(s.ReadSegment)
	return s
}

// NewFromConfig creates a store using the default AWS configuration
// chain (environment, shared config, instance metadata).
func NewFromConfig(ctx context.Context, bucket string, optFns ...func(o *Options)) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return New(s3.NewFromConfig(cfg), bucket, optFns...), nil
}

func (s *Store) key(id *segment.ID) string {
	return path.Join(s.prefix, fmt.Sprintf("%016x%016x.seg", id.MSB(), id.LSB()))
}

// ContainsSegment reports whether an object exists for the segment.
// Transport errors are reported as absence; the subsequent read
// surfaces them properly.
func (s *Store) ContainsSegment(id *segment.ID) bool {
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err == nil
}

// ReadSegment returns the segment with the given ID, fetching the
// object on a cache miss.
func (s *Store) ReadSegment(id *segment.ID) (*segment.Segment, error) {
	return s.cache.GetSegment(id, func() (*segment.Segment, error) {
		resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, &segment.NotFoundError{ID: id}
			}
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return segment.NewSegment(id, data)
	})
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

// WriteSegment uploads data under the segment's key.
func (s *Store) WriteSegment(id *segment.ID, data []byte) error {
	key := s.key(id)
	_, err := s.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
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
