package emit

import (
	"context"
	"log/slog"
	"sort"
)

// LogEmitter writes events as structured log records.
//
// Node errors are logged at Error level, interrupts and aborts at Warn, and
// everything else at Info. Meta keys become record attributes in sorted
// order so text output is stable.
//
// Example text output:
//
//	level=INFO msg=node_end thread_id=thread_1a2b3c4d step=1 node_id=draft latency_ms=1840 next=review
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "engine")}
}

// Emit logs the event.
func (l *LogEmitter) Emit(event Event) {
	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs,
		slog.String("thread_id", event.ThreadID),
		slog.Int("step", event.Step),
	)
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(context.Background(), levelFor(event), event.Msg, attrs...)
}

func levelFor(event Event) slog.Level {
	switch event.Msg {
	case MsgNodeError:
		return slog.LevelError
	case MsgInterrupted, MsgAborted:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
