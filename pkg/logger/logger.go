// Package logger provides structured logging for the library build engine.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with library-build specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler. If handler is nil, a text
// handler to stderr at Info level is used.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewText creates a Logger that writes human-readable text logs to w.
func NewText(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// Noop creates a Logger that discards all log output.
func Noop() *Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithLibrary adds a library filename field to the logger.
func (l *Logger) WithLibrary(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("library", path),
	}
}

// WithAction adds the build or combine action field to the logger.
func (l *Logger) WithAction(action string) *Logger {
	return &Logger{
		Logger: l.Logger.With("action", action),
	}
}

// LogInsert logs the insertion of one entry into an output library.
func (l *Logger) LogInsert(name string, offset int64, err error) {
	if err != nil {
		l.Error("insert failed",
			"entry", name,
			"error", err,
		)
	} else {
		l.Debug("insert completed",
			"entry", name,
			"offset", offset,
		)
	}
}

// LogSkippedEntry logs an entry dropped during a build with its reason.
func (l *Logger) LogSkippedEntry(name, reason string) {
	l.Debug("entry skipped",
		"entry", name,
		"reason", reason,
	)
}

// LogIndexRebuild logs an index rebuild forced by a stale or missing sidecar.
func (l *Logger) LogIndexRebuild(idxPath string, entries int, err error) {
	if err != nil {
		l.Error("index rebuild failed",
			"index", idxPath,
			"error", err,
		)
	} else {
		l.Info("index rebuilt",
			"index", idxPath,
			"entries", entries,
		)
	}
}
