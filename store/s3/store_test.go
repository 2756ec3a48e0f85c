package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segstore/segment"
)

// fakeClient keeps objects in memory and answers the subset of the S3
// API the store uses.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (c *fakeClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.objects[*params.Key] = data
	c.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	data, ok := c.objects[*params.Key]
	c.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (c *fakeClient) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	data, ok := c.objects[*params.Key]
	c.mu.Unlock()
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (c *fakeClient) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not expected for segments")
}

func (c *fakeClient) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not expected for segments")
}

func (c *fakeClient) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not expected for segments")
}

func (c *fakeClient) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not expected for segments")
}

func TestStoreRoundTrip(t *testing.T) {
	client := newFakeClient()
	store := New(client, "segments", func(o *Options) {
		o.Prefix = "prod/"
	})

	pool := segment.NewWriterPool(store, "W", nil, nil)
	w := segment.NewWriter(pool, segment.DefaultWriterConfig())
	rid, err := w.WriteString("object storage")
	require.NoError(t, err)
	require.NoError(t, w.Flush(context.Background()))

	require.True(t, store.ContainsSegment(rid.ID))

	seg, err := rid.ID.GetSegment()
	require.NoError(t, err)
	r, err := seg.Reader()
	require.NoError(t, err)
	got, err := r.ReadString(rid.Number)
	require.NoError(t, err)
	require.Equal(t, "object storage", got)

	// The key carries the configured prefix.
	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.objects, 1)
	for key := range client.objects {
		require.Regexp(t, `^prod/[0-9a-f]{32}\.seg$`, key)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := New(newFakeClient(), "segments")
	id := store.Tracker().NewDataID()

	require.False(t, store.ContainsSegment(id))
	_, err := store.ReadSegment(id)
	var nf *segment.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Same(t, id, nf.ID)
}

func TestStoreReadIsCached(t *testing.T) {
	client := newFakeClient()
	store := New(client, "segments")

	pool := segment.NewWriterPool(store, "W", nil, nil)
	w := segment.NewWriter(pool, segment.DefaultWriterConfig())
	rid, err := w.WriteString("cached")
	require.NoError(t, err)
	require.NoError(t, w.Flush(context.Background()))

	_, err = store.ReadSegment(rid.ID)
	require.NoError(t, err)
	_, err = store.ReadSegment(rid.ID)
	require.NoError(t, err)

	stats := store.CacheStats()
	require.EqualValues(t, 1, stats.MissCount)
	require.EqualValues(t, 1, stats.HitCount)
}

// TestIntegration exercises the store against a real bucket. Set
// S3_BUCKET to run it.
func TestIntegration(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	require.NoError(t, err)

	store := New(s3.NewFromConfig(cfg), bucket, func(o *Options) {
		o.Prefix = "segstore-test/"
	})

	pool := segment.NewWriterPool(store, "W", nil, nil)
	w := segment.NewWriter(pool, segment.DefaultWriterConfig())
	rid, err := w.WriteString("integration")
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx))

	seg, err := store.ReadSegment(rid.ID)
	require.NoError(t, err)
	r, err := seg.Reader()
	require.NoError(t, err)
	got, err := r.ReadString(rid.Number)
	require.NoError(t, err)
	require.Equal(t, "integration", got)
}
