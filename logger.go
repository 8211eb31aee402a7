package pgstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with pgstore-specific helpers so that every event
// uses the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at Info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// WithDir adds a directory field.
func (l *Logger) WithDir(dir string) *Logger {
	return &Logger{Logger: l.Logger.With("dir", dir)}
}

// LogOpen logs opening or creating a base.
func (l *Logger) LogOpen(ctx context.Context, created bool, stores int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed", "create", created, "error", err)
		return
	}
	l.InfoContext(ctx, "base opened", "create", created, "stores", stores)
}

// LogFlush logs a full or partial flush.
func (l *Logger) LogFlush(ctx context.Context, partial bool, pages int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed", "partial", partial, "error", err)
		return
	}
	l.DebugContext(ctx, "flush completed", "partial", partial, "pages", pages, "duration", d)
}

// LogGarbageCollect logs a window enforcement pass.
func (l *Logger) LogGarbageCollect(ctx context.Context, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "garbage collection failed", "deleted", deleted, "error", err)
		return
	}
	l.DebugContext(ctx, "garbage collection completed", "deleted", deleted)
}

// LogBackup logs a backup.
func (l *Logger) LogBackup(ctx context.Context, id string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed", "id", id, "error", err)
		return
	}
	l.InfoContext(ctx, "backup written", "id", id, "files", files)
}

// LogClose logs closing a base.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed", "error", err)
		return
	}
	l.InfoContext(ctx, "base closed")
}
