package audithook

import (
	"context"
	"log/slog"
	"sort"
)

// LogRecorder writes audit events to a slog.Logger. Critical events are
// logged at error level, warnings at warn, everything else at info.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a LogRecorder writing to l.
func NewLogRecorder(l *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: l}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	keys := make([]string, 0, len(evt.Metadata))
	for k := range evt.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	meta := make([]any, 0, len(keys))
	for _, k := range keys {
		meta = append(meta, slog.Any(k, evt.Metadata[k]))
	}

	r.logger.LogAttrs(ctx, level, "audit",
		slog.String("action", evt.Action),
		slog.String("category", evt.Category),
		slog.String("resource", evt.Resource),
		slog.String("resource_id", evt.ResourceID),
		slog.String("outcome", evt.Outcome),
		slog.Group("metadata", meta...),
	)
	return nil
}
