package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// WriterPool hands out BufferWriters with caller affinity: a caller
// borrowing under the same key gets its previous writer back, so a
// writer is only ever used by one caller at a time. Flush quiesces
// every writer that is active or out on loan and emits them in a single
// pass.
type WriterPool struct {
	store      Store
	name       string
	generation func() uint32
	logger     *slog.Logger

	// flushMu serializes flushes; mu guards the tables below and is the
	// monitor returning borrowers signal.
	flushMu sync.Mutex
	mu      sync.Mutex
	cond    *sync.Cond

	active   map[any]*BufferWriter
	borrowed map[*BufferWriter]struct{}
	disposed []*BufferWriter
	counter  int
}

// NewWriterPool creates a pool named name whose writers emit segments
// to store. generation supplies the current GC generation: a writer
// minted for an older generation is disposed and flushed instead of
// being reused. A nil generation pins every writer to generation zero;
// a nil logger disables logging.
func NewWriterPool(store Store, name string, generation func() uint32, logger *slog.Logger) *WriterPool {
	if generation == nil {
		generation = func() uint32 { return 0 }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &WriterPool{
		store:      store,
		name:       name,
		generation: generation,
		logger:     logger,
		active:     make(map[any]*BufferWriter),
		borrowed:   make(map[*BufferWriter]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Borrow takes the writer owned by key out of the pool, minting a new
// one when the key has no writer or its writer's generation went stale.
// The writer must be handed back with Return under the same key.
func (p *WriterPool) Borrow(key any) *BufferWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.active[key]
	delete(p.active, key)

	if w != nil && w.Generation() != p.generation() {
		p.disposed = append(p.disposed, w)
		w = nil
	}
	if w == nil {
		w = NewBufferWriter(p.store, p.generation(), p.nextWriterID(), p.logger)
	}
	p.borrowed[w] = struct{}{}
	return w
}

// Return hands a borrowed writer back. If a flush claimed the writer
// while it was out on loan, the writer joins the flush's dispose list
// instead of becoming active again.
func (p *WriterPool) Return(key any, w *BufferWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.borrowed[w]; ok {
		delete(p.borrowed, w)
		if _, occupied := p.active[key]; occupied {
			panic(fmt.Sprintf("segment: writer slot for %v already occupied", key))
		}
		p.active[key] = w
		return
	}

	p.disposed = append(p.disposed, w)
	p.cond.Broadcast()
}

// Execute borrows the writer for key, runs op with it and returns it,
// also when op fails.
func (p *WriterPool) Execute(key any, op func(*BufferWriter) error) error {
	w := p.Borrow(key)
	defer p.Return(key, w)
	return op(w)
}

// Flush emits every writer that is active or borrowed when the flush
// starts. Borrowed writers are awaited until their holders return them;
// the actual segment writes happen outside the pool lock. A writer
// returned during the flush is flushed as part of it, never dropped.
//
// When ctx is cancelled while waiting for borrowed writers, the claimed
// writers are parked for the next flush and the context error is
// returned. Once all in-flight writes complete, repeated flushes are
// idempotent.
func (p *WriterPool) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()

	toFlush := make([]*BufferWriter, 0, len(p.active))
	for key, w := range p.active {
		toFlush = append(toFlush, w)
		delete(p.active, key)
	}

	awaited := make(map[*BufferWriter]struct{}, len(p.borrowed))
	for w := range p.borrowed {
		awaited[w] = struct{}{}
	}
	clear(p.borrowed)

	if len(awaited) > 0 {
		returned := func() bool {
			n := 0
			for _, w := range p.disposed {
				if _, ok := awaited[w]; ok {
					n++
				}
			}
			return n == len(awaited)
		}
		stop := context.AfterFunc(ctx, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.cond.Broadcast()
		})
		for !returned() && ctx.Err() == nil {
			p.cond.Wait()
		}
		stop()

		if err := ctx.Err(); err != nil {
			// Park the claimed writers for the next flush.
			p.disposed = append(p.disposed, toFlush...)
			p.mu.Unlock()
			return err
		}
	}

	toFlush = append(toFlush, p.disposed...)
	p.disposed = p.disposed[:0]
	p.mu.Unlock()

	for i, w := range toFlush {
		if err := w.Flush(); err != nil {
			p.mu.Lock()
			p.disposed = append(p.disposed, toFlush[i:]...)
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

// nextWriterID mints the next writer identifier, a rolling zero-padded
// counter scoped to the pool name. Caller holds p.mu.
func (p *WriterPool) nextWriterID() string {
	id := fmt.Sprintf("%s.%04d", p.name, p.counter)
	p.counter = (p.counter + 1) % 10000
	return id
}
