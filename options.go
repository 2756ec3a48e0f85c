package segstore

import (
	"log/slog"

	"github.com/hupe1980/segstore/segment"
)

type options struct {
	segmentCacheMB int
	writerConfig   segment.WriterConfig
	logger         *Logger
	generation     func() uint32
}

// Option configures a SegStore.
type Option func(*options)

// WithSegmentCacheMB sizes the segment cache in megabytes. It applies
// to stores built by OpenMemStore and OpenFileStore; a store passed to
// Open carries its own cache.
func WithSegmentCacheMB(mb int) Option {
	return func(o *options) {
		o.segmentCacheMB = mb
	}
}

// WithStringsCacheSize sizes the writer-side string interning cache.
// Zero disables interning.
func WithStringsCacheSize(size int) Option {
	return func(o *options) {
		o.writerConfig.StringsCacheSize = size
	}
}

// WithTemplatesCacheSize sizes the writer-side template interning
// cache. Zero disables interning.
func WithTemplatesCacheSize(size int) Option {
	return func(o *options) {
		o.writerConfig.TemplatesCacheSize = size
	}
}

// WithNodesCacheSize sizes the writer-side node record cache. Zero
// disables it.
func WithNodesCacheSize(size int) Option {
	return func(o *options) {
		o.writerConfig.NodesCacheSize = size
	}
}

// WithNodesCacheDepth bounds the node depth admitted to the node
// record cache.
func WithNodesCacheDepth(depth int) Option {
	return func(o *options) {
		o.writerConfig.NodesCacheDepth = depth
	}
}

// WithLogger configures structured logging. Pass nil to disable
// logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets
// it. Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithGCGeneration supplies the current garbage-collection generation.
// Newly written segments carry the generation observed when their
// writer was created, and pooled writers from older generations are
// retired on their next checkout.
func WithGCGeneration(generation func() uint32) Option {
	return func(o *options) {
		o.generation = generation
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		segmentCacheMB: segment.DefaultCacheMB,
		writerConfig:   segment.DefaultWriterConfig(),
		logger:         NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
