package assetgo

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with assetgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds a path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithType adds a resource type field to the logger.
func (l *Logger) WithType(typ string) *Logger {
	return &Logger{
		Logger: l.Logger.With("type", typ),
	}
}

// LogLoad logs a resource load.
func (l *Logger) LogLoad(typ, path string, bytes int64, fallback bool, err error) {
	if err != nil {
		l.Error("load failed",
			"type", typ,
			"path", path,
			"error", err,
		)
		return
	}
	if fallback {
		l.Warn("fallback resource created",
			"type", typ,
			"path", path,
		)
		return
	}
	l.Debug("load completed",
		"type", typ,
		"path", path,
		"bytes", bytes,
	)
}

// LogUnload logs a resource unload.
func (l *Logger) LogUnload(typ, path string) {
	l.Debug("unload completed",
		"type", typ,
		"path", path,
	)
}

// LogEviction logs an eviction pass.
func (l *Logger) LogEviction(evicted int, freedBytes int64) {
	l.Info("resources evicted",
		"count", evicted,
		"freed_bytes", freedBytes,
	)
}

// LogMemoryPressure logs a memory pressure event.
func (l *Logger) LogMemoryPressure(usage, threshold int64, events uint64) {
	l.Warn("memory pressure detected",
		"usage_bytes", usage,
		"threshold_bytes", threshold,
		"events", events,
	)
}

// LogPressureResolved logs the outcome of a pressure response.
func (l *Logger) LogPressureResolved(usage int64, elapsed time.Duration) {
	l.Info("memory pressure handled",
		"usage_bytes", usage,
		"elapsed", elapsed,
	)
}
