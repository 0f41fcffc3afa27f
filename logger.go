package catid

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with catid-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithScope adds user and device fields to the logger.
func (l *Logger) WithScope(userID, deviceID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("user", userID, "device", deviceID),
	}
}

// LogRegister logs a register operation.
func (l *Logger) LogRegister(ctx context.Context, userID, deviceID, catUID string, added, duplicates int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "register failed",
			"user", userID,
			"device", deviceID,
			"cat", catUID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "register completed",
			"user", userID,
			"device", deviceID,
			"cat", catUID,
			"added", added,
			"duplicates", duplicates,
		)
	}
}

// LogLookup logs a bank lookup.
func (l *Logger) LogLookup(ctx context.Context, userID, deviceID string, cats int, err error) {
	if err != nil {
		l.DebugContext(ctx, "bank lookup failed",
			"user", userID,
			"device", deviceID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "bank lookup completed",
			"user", userID,
			"device", deviceID,
			"cats", cats,
		)
	}
}

// LogIdentify logs an identification.
func (l *Logger) LogIdentify(ctx context.Context, userID, deviceID, catUID string, score float64, err error) {
	if err != nil {
		l.WarnContext(ctx, "identify failed",
			"user", userID,
			"device", deviceID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "identify completed",
			"user", userID,
			"device", deviceID,
			"cat", catUID,
			"score", score,
		)
	}
}

// LogSync logs a finished sync.
func (l *Logger) LogSync(ctx context.Context, userID, deviceID string, processed, skipped, failed int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "sync failed",
			"user", userID,
			"device", deviceID,
			"processed", processed,
			"error", err,
		)
	case failed > 0 || skipped > 0:
		l.WarnContext(ctx, "sync completed with failures",
			"user", userID,
			"device", deviceID,
			"processed", processed,
			"skipped", skipped,
			"failed_cats", failed,
		)
	default:
		l.InfoContext(ctx, "sync completed",
			"user", userID,
			"device", deviceID,
			"processed", processed,
		)
	}
}
