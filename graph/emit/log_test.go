package emit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLogEmitter_StructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	emitter := NewLogEmitter(logger)

	emitter.Emit(Event{
		ThreadID: "thread_abc",
		Step:     3,
		NodeID:   "synthesize",
		Msg:      MsgNodeEnd,
		Meta:     map[string]interface{}{"next": "human_halt"},
	})

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}

	checks := map[string]interface{}{
		"msg":       MsgNodeEnd,
		"level":     "INFO",
		"thread_id": "thread_abc",
		"step":      float64(3),
		"node_id":   "synthesize",
		"next":      "human_halt",
		"component": "engine",
	}
	for key, want := range checks {
		if record[key] != want {
			t.Errorf("%s = %v, want %v", key, record[key], want)
		}
	}
}

func TestLogEmitter_Levels(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{MsgNodeEnd, "level=INFO"},
		{MsgInterrupted, "level=WARN"},
		{MsgAborted, "level=WARN"},
		{MsgNodeError, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			var buf bytes.Buffer
			emitter := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))
			emitter.Emit(Event{ThreadID: "t", Msg: tt.msg})

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, buf.String())
			}
		})
	}
}

func TestLogEmitter_OmitsEmptyNode(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))
	emitter.Emit(Event{ThreadID: "t", Msg: MsgCompleted})

	if strings.Contains(buf.String(), "node_id=") {
		t.Errorf("run-level event should not carry node_id: %s", buf.String())
	}
}
