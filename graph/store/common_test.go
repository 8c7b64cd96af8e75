package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/protocol-foundry/graph/store"
)

type contractState struct {
	Draft   string            `json:"draft"`
	Count   int               `json:"count"`
	History []string          `json:"history"`
	Meta    map[string]string `json:"meta"`
}

// runStoreContract exercises the behavior every Store implementation must share.
func runStoreContract(t *testing.T, st store.Store[contractState]) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing thread returns ErrNotFound", func(t *testing.T) {
		if _, err := st.LoadCheckpoint(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("LoadCheckpoint error = %v, want ErrNotFound", err)
		}
		if _, _, err := st.LoadLatest(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("LoadLatest error = %v, want ErrNotFound", err)
		}
	})

	t.Run("steps return the latest", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			s := contractState{Count: i, History: []string{"d"}}
			if err := st.SaveStep(ctx, "steps", i, "draft", s); err != nil {
				t.Fatalf("SaveStep(%d): %v", i, err)
			}
		}

		state, step, err := st.LoadLatest(ctx, "steps")
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if step != 3 || state.Count != 3 {
			t.Errorf("got step %d count %d, want 3/3", step, state.Count)
		}
	})

	t.Run("checkpoint round trip", func(t *testing.T) {
		cp := store.Checkpoint[contractState]{
			ThreadID: "thread_a",
			Step:     4,
			NodeID:   "synthesize",
			Next:     "human_halt",
			Status:   store.StatusPaused,
			State: contractState{
				Draft:   "v2",
				Count:   2,
				History: []string{"v1", "v2"},
				Meta:    map[string]string{"intent": "sleep"},
			},
		}
		if err := st.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}

		got, err := st.LoadCheckpoint(ctx, "thread_a")
		if err != nil {
			t.Fatalf("LoadCheckpoint: %v", err)
		}
		if got.Step != 4 || got.NodeID != "synthesize" || got.Next != "human_halt" || got.Status != store.StatusPaused {
			t.Errorf("unexpected checkpoint header: %+v", got)
		}
		if got.State.Draft != "v2" || len(got.State.History) != 2 || got.State.Meta["intent"] != "sleep" {
			t.Errorf("unexpected state: %+v", got.State)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("expected UpdatedAt to be set")
		}
	})

	t.Run("checkpoint is replaced not appended", func(t *testing.T) {
		cp := store.Checkpoint[contractState]{ThreadID: "thread_b", Step: 1, NodeID: "draft", Next: "review", Status: store.StatusRunning}
		if err := st.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
		cp.Step, cp.NodeID, cp.Next, cp.Status = 2, "review", "", store.StatusDone
		if err := st.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}

		got, err := st.LoadCheckpoint(ctx, "thread_b")
		if err != nil {
			t.Fatalf("LoadCheckpoint: %v", err)
		}
		if got.Step != 2 || got.Status != store.StatusDone || got.Next != "" {
			t.Errorf("checkpoint not replaced: %+v", got)
		}
	})

	t.Run("list includes every thread", func(t *testing.T) {
		all, err := st.ListCheckpoints(ctx)
		if err != nil {
			t.Fatalf("ListCheckpoints: %v", err)
		}
		ids := make(map[string]bool)
		for _, cp := range all {
			ids[cp.ThreadID] = true
		}
		for _, want := range []string{"thread_a", "thread_b"} {
			if !ids[want] {
				t.Errorf("ListCheckpoints missing %s", want)
			}
		}
	})
}
