package segdb

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/segdb/model"
)

// Logger wraps slog.Logger with segdb-specific context.
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
	return NewLogger(slog.DiscardHandler)
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(id model.SegmentID) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", id.String()),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(table string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", table),
	}
}

// LogBuild logs an ingest batch flushed as a new segment.
func (l *Logger) LogBuild(ctx context.Context, id model.SegmentID, objects int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"segment", id.String(),
			"objects", objects,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "segment built",
			"segment", id.String(),
			"objects", objects,
			"duration", d,
		)
	}
}

// LogMerge logs a merge of inputs into out.
func (l *Logger) LogMerge(ctx context.Context, inputs []model.SegmentID, out model.SegmentID, stats MergeStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"inputs", len(inputs),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "merge completed",
			"inputs", len(inputs),
			"segment", out.String(),
			"rows", stats.Rows,
			"superseded", stats.Superseded,
			"purged", stats.Purged,
			"duration", stats.Duration,
		)
	}
}

// LogRewrite logs a rewrite of a segment into a new physical version.
func (l *Logger) LogRewrite(ctx context.Context, id model.SegmentID, version uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rewrite failed",
			"segment", id.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "segment rewritten",
			"segment", id.String(),
			"version", version,
		)
	}
}

// LogRestore logs cursors that reopened a replaced segment during a merge.
func (l *Logger) LogRestore(ctx context.Context, out model.SegmentID, restores int) {
	l.WarnContext(ctx, "merge restored replaced inputs",
		"segment", out.String(),
		"restores", restores,
	)
}

// LogQuery logs a drained query.
func (l *Logger) LogQuery(ctx context.Context, table string, keys int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"table", table,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"table", table,
			"keys", keys,
		)
	}
}
