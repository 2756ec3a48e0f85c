package segstore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with segstore-specific helpers so that all
// components log with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is
// nil, a text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithWriter adds a writer name field to the logger.
func (l *Logger) WithWriter(name string) *Logger {
	return &Logger{Logger: l.Logger.With("writer", name)}
}

// LogFlush logs the outcome of a flush across writer pools.
func (l *Logger) LogFlush(ctx context.Context, pools int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"pools", pools,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"pools", pools,
		)
	}
}

// LogSegmentNotFound logs a failed segment resolution with its gc
// diagnostics.
func (l *Logger) LogSegmentNotFound(ctx context.Context, id, gcInfo string) {
	l.ErrorContext(ctx, "segment not found",
		"id", id,
		"gc", gcInfo,
	)
}
