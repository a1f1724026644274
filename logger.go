package catalog

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with catalog-specific helpers so every operation
// logs the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that emits JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that emits human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))}
}

// LogRegisterTenant logs a tenant registration.
func (l *Logger) LogRegisterTenant(ctx context.Context, owner string, tenantID uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "tenant registration failed", "owner", owner, "error", err)
	} else {
		l.InfoContext(ctx, "tenant registered", "owner", owner, "tenant_id", tenantID)
	}
}

// LogCreateItem logs an item creation.
func (l *Logger) LogCreateItem(ctx context.Context, id uint64, keywords int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create item failed", "error", err)
	} else {
		l.DebugContext(ctx, "item created", "id", id, "keywords", keywords)
	}
}

// LogMutation logs an item mutation (update, sale, delete).
func (l *Logger) LogMutation(ctx context.Context, op string, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "item mutation failed", "op", op, "id", id, "error", err)
	} else {
		l.DebugContext(ctx, "item mutated", "op", op, "id", id)
	}
}

// LogSearch logs a search.
func (l *Logger) LogSearch(ctx context.Context, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "results", results)
	}
}

// LogStructural logs a structural capacity operation (new chunk, shard or
// range split).
func (l *Logger) LogStructural(ctx context.Context, kind string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "structural operation failed", "kind", kind, "error", err)
	} else {
		l.InfoContext(ctx, "structural operation completed", "kind", kind)
	}
}

// LogSnapshot logs a snapshot save or restore.
func (l *Logger) LogSnapshot(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed", "op", op, "name", name, "error", err)
	} else {
		l.InfoContext(ctx, "snapshot completed", "op", op, "name", name)
	}
}
