package slabpool

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with pool-specific context.
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

// WithPool adds a pool name field to the logger.
func (l *Logger) WithPool(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("pool", name),
	}
}

// LogMisuse logs a rejected release. suppressed is the number of reports
// dropped by rate limiting since the previous one.
func (l *Logger) LogMisuse(ctx context.Context, m Misuse, suppressed int64) {
	attrs := []any{
		"kind", m.Kind.String(),
		"handle", uint32(m.Handle),
		"capacity", m.Capacity,
	}
	if m.Block >= 0 {
		attrs = append(attrs, "block", m.Block)
	}
	if suppressed > 0 {
		attrs = append(attrs, "suppressed", suppressed)
	}
	attrs = append(attrs, "error", m.Err)
	l.ErrorContext(ctx, "release rejected", attrs...)
}

// LogExhausted logs an allocation that found no free slot.
func (l *Logger) LogExhausted(ctx context.Context, capacity int) {
	l.DebugContext(ctx, "pool exhausted",
		"capacity", capacity,
	)
}

// LogSnapshot logs a snapshot write.
func (l *Logger) LogSnapshot(ctx context.Context, live int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"live", live,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot written",
			"live", live,
			"bytes", bytes,
		)
	}
}

// LogRestore logs a snapshot restore.
func (l *Logger) LogRestore(ctx context.Context, live int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot restore failed",
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot restored",
			"live", live,
			"bytes", bytes,
		)
	}
}
