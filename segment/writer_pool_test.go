package segment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesWriterPerKey(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	w := pool.Borrow("a")
	require.Equal(t, "W.0000", w.WriterID())
	pool.Return("a", w)

	again := pool.Borrow("a")
	require.Same(t, w, again)
	pool.Return("a", again)

	other := pool.Borrow("b")
	require.NotSame(t, w, other)
	require.Equal(t, "W.0001", other.WriterID())
	pool.Return("b", other)
}

func TestPoolDisposesStaleGeneration(t *testing.T) {
	store := newTestStore()
	var generation atomic.Uint32
	pool := NewWriterPool(store, "W", generation.Load, nil)

	w := pool.Borrow("a")
	require.Equal(t, uint32(0), w.Generation())
	_, err := writeValue(w, []byte("old"))
	require.NoError(t, err)
	pool.Return("a", w)

	generation.Store(1)

	fresh := pool.Borrow("a")
	require.NotSame(t, w, fresh)
	require.Equal(t, uint32(1), fresh.Generation())
	pool.Return("a", fresh)

	// The stale writer is not lost: flush drains the dispose list.
	require.NoError(t, pool.Flush(context.Background()))
	require.Equal(t, 1, store.segmentCount())
	s, err := store.ReadSegment(mustFindSegment(t, store, 0))
	require.NoError(t, err)
	require.Equal(t, uint32(0), s.Generation())
}

// mustFindSegment returns a stored segment ID whose header carries the
// given generation.
func mustFindSegment(t *testing.T, store *testStore, generation uint32) *ID {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for id, data := range store.segments {
		s, err := NewSegment(id, data)
		require.NoError(t, err)
		if s.Generation() == generation {
			return id
		}
	}
	t.Fatalf("no segment with generation %d", generation)
	return nil
}

func TestPoolExecuteReturnsOnFailure(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	var borrowed *BufferWriter
	err := pool.Execute("a", func(w *BufferWriter) error {
		borrowed = w
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// The writer went back to its slot despite the failure.
	require.Same(t, borrowed, pool.Borrow("a"))
	pool.Return("a", borrowed)
}

func TestPoolFlushEmitsActiveWriters(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	err := pool.Execute("a", func(w *BufferWriter) error {
		_, err := writeValue(w, []byte("payload"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, store.segmentCount())

	require.NoError(t, pool.Flush(context.Background()))
	require.Equal(t, 1, store.segmentCount())
}

func TestPoolFlushAwaitsBorrowedWriters(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	w := pool.Borrow("a")
	_, err := writeValue(w, []byte("in flight"))
	require.NoError(t, err)

	flushed := make(chan error, 1)
	go func() {
		flushed <- pool.Flush(context.Background())
	}()

	// The flush cannot complete while the writer is out on loan.
	select {
	case err := <-flushed:
		t.Fatalf("flush completed with borrowed writer: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	pool.Return("a", w)
	require.NoError(t, <-flushed)
	require.Equal(t, 1, store.segmentCount())
}

func TestPoolFlushIdempotent(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	err := pool.Execute("a", func(w *BufferWriter) error {
		_, err := writeValue(w, []byte("once"))
		return err
	})
	require.NoError(t, err)

	require.NoError(t, pool.Flush(context.Background()))
	count := store.segmentCount()
	require.NoError(t, pool.Flush(context.Background()))
	require.Equal(t, count, store.segmentCount())
}

func TestPoolFlushCancellation(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	held := pool.Borrow("a")
	_, err := writeValue(held, []byte("held"))
	require.NoError(t, err)

	idle := pool.Borrow("b")
	_, err = writeValue(idle, []byte("idle"))
	require.NoError(t, err)
	pool.Return("b", idle)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.Flush(ctx), context.DeadlineExceeded)
	require.Equal(t, 0, store.segmentCount())

	// The next flush still makes progress and emits everything.
	pool.Return("a", held)
	require.NoError(t, pool.Flush(context.Background()))
	require.Equal(t, 2, store.segmentCount())
}

func TestPoolReturnPanicsOnOccupiedSlot(t *testing.T) {
	store := newTestStore()
	pool := NewWriterPool(store, "W", nil, nil)

	first := pool.Borrow("a")
	second := pool.Borrow("a")
	pool.Return("a", first)

	require.Panics(t, func() {
		pool.Return("a", second)
	})
}
