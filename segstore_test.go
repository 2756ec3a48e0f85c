package segstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segstore/segment"
	"github.com/hupe1980/segstore/store"
)

func TestWriteReadThroughFacade(t *testing.T) {
	db := OpenMemStore()
	ctx := context.Background()

	rid, err := db.WriteString("hello")
	require.NoError(t, err)
	require.NoError(t, db.Flush(ctx))

	got, err := db.ReadString(rid)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestLongValueThroughFacade(t *testing.T) {
	db := OpenMemStore()
	value := strings.Repeat("segment", 10000)

	rid, err := db.WriteString(value)
	require.NoError(t, err)
	require.NoError(t, db.Flush(context.Background()))

	length, err := db.ReadLength(rid)
	require.NoError(t, err)
	require.EqualValues(t, len(value), length)

	got, err := db.ReadString(rid)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestTemplateAndNodeThroughFacade(t *testing.T) {
	db := OpenMemStore()

	primary, err := db.WriteString("app:Document")
	require.NoError(t, err)
	template, err := db.WriteTemplate(&segment.Template{PrimaryType: &primary, NoChildNodes: true})
	require.NoError(t, err)
	stable, err := db.WriteString("stable-id")
	require.NoError(t, err)
	_, err = db.WriteNode(stable, 1, []segment.RecordID{template})
	require.NoError(t, err)
	require.NoError(t, db.Flush(context.Background()))

	got, err := db.ReadTemplate(template)
	require.NoError(t, err)
	require.NotNil(t, got.PrimaryType)
	name, err := db.ReadString(*got.PrimaryType)
	require.NoError(t, err)
	require.Equal(t, "app:Document", name)
}

func TestBlobIDThroughFacade(t *testing.T) {
	db := OpenMemStore()

	rid, err := db.WriteBlobID("blob-0001")
	require.NoError(t, err)
	require.NoError(t, db.Flush(context.Background()))

	got, err := db.ReadBlobID(rid)
	require.NoError(t, err)
	require.Equal(t, "blob-0001", got)
}

func TestNamedWritersKeepSeparateSegments(t *testing.T) {
	db := OpenMemStore()
	ctx := context.Background()

	a, err := db.Writer("content").WriteString("a")
	require.NoError(t, err)
	b, err := db.Writer("checkpoints").WriteString("b")
	require.NoError(t, err)
	require.NoError(t, db.Flush(ctx))

	require.NotSame(t, a.ID, b.ID)

	gotA, err := db.ReadString(a)
	require.NoError(t, err)
	gotB, err := db.ReadString(b)
	require.NoError(t, err)
	assert.Equal(t, "a", gotA)
	assert.Equal(t, "b", gotB)
}

func TestSameWriterNameIsShared(t *testing.T) {
	db := OpenMemStore()
	require.Same(t, db.Writer("w"), db.Writer("w"))
}

func TestReadMissingSegment(t *testing.T) {
	db := OpenMemStore()

	rid := segment.RecordID{ID: db.Tracker().NewDataID(), Number: 0}
	_, err := db.ReadString(rid)
	require.True(t, IsNotFound(err))

	nf, ok := AsNotFound(err)
	require.True(t, ok)
	require.Same(t, rid.ID, nf.ID)
}

func TestErrorHelpers(t *testing.T) {
	db := OpenMemStore()

	_, err := db.ReadString(segment.RecordID{ID: db.Tracker().NewDataID()})
	assert.True(t, IsNotFound(err))
	assert.False(t, IsExecution(err))
	assert.False(t, IsInvalidSegment(err))

	id := db.Tracker().NewDataID()
	require.NoError(t, db.Store().WriteSegment(id, []byte("garbage")))
	_, err = db.Store().ReadSegment(id)
	assert.True(t, IsExecution(err))
	assert.True(t, IsInvalidSegment(err))
}

func TestFacadeOverFileStore(t *testing.T) {
	db, err := OpenFileStore(t.TempDir(), WithSegmentCacheMB(8))
	require.NoError(t, err)

	rid, err := db.WriteString("durable")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	got, err := db.ReadString(rid)
	require.NoError(t, err)
	require.Equal(t, "durable", got)
}

func TestGCGenerationFlowsToSegments(t *testing.T) {
	var generation uint32 = 3
	db := OpenMemStore(WithGCGeneration(func() uint32 { return generation }))

	rid, err := db.WriteString("generational")
	require.NoError(t, err)
	require.NoError(t, db.Flush(context.Background()))

	seg, err := rid.ID.GetSegment()
	require.NoError(t, err)
	require.Equal(t, uint32(3), seg.Generation())
}

func TestInterningAcrossFacadeWrites(t *testing.T) {
	db := OpenMemStore()

	first, err := db.WriteString("interned")
	require.NoError(t, err)
	second, err := db.WriteString("interned")
	require.NoError(t, err)
	require.True(t, first.Equal(second))

	db = OpenMemStore(WithStringsCacheSize(0))
	first, err = db.WriteString("interned")
	require.NoError(t, err)
	second, err = db.WriteString("interned")
	require.NoError(t, err)
	require.False(t, first.Equal(second))
}

func TestConcurrentWritersAndFlush(t *testing.T) {
	db := OpenMemStore()
	ctx := context.Background()

	var mu sync.Mutex
	var rids []segment.RecordID

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				rid, err := db.WriteString(fmt.Sprintf("value-%d-%d", i, j))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				rids = append(rids, rid)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.NoError(t, db.Flush(ctx))

	for _, rid := range rids {
		_, err := db.ReadString(rid)
		require.NoError(t, err)
	}
}

func TestFlushIsIdempotentAcrossPools(t *testing.T) {
	db := OpenMemStore()
	ctx := context.Background()

	_, err := db.Writer("a").WriteString("x")
	require.NoError(t, err)
	_, err = db.Writer("b").WriteString("y")
	require.NoError(t, err)

	require.NoError(t, db.Flush(ctx))
	ms := db.Store().(*store.MemStore)
	count := ms.Len()
	require.NoError(t, db.Flush(ctx))
	require.Equal(t, count, ms.Len())
}
