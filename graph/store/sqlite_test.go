package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dshills/protocol-foundry/graph/store"
)

func newSQLiteStore(t *testing.T, path string) *store.SQLiteStore[contractState] {
	t.Helper()
	st, err := store.NewSQLiteStore[contractState](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_Contract(t *testing.T) {
	st := newSQLiteStore(t, filepath.Join(t.TempDir(), "contract.db"))
	runStoreContract(t, st)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	first, err := store.NewSQLiteStore[contractState](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	cp := store.Checkpoint[contractState]{
		ThreadID: "thread_restart",
		Step:     5,
		NodeID:   "synthesize",
		Next:     "human_halt",
		Status:   store.StatusPaused,
		State:    contractState{Draft: "persisted", Count: 2},
	}
	if err := first.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newSQLiteStore(t, path)
	got, err := second.LoadCheckpoint(ctx, "thread_restart")
	if err != nil {
		t.Fatalf("LoadCheckpoint after reopen: %v", err)
	}
	if got.State.Draft != "persisted" || got.Next != "human_halt" || got.Status != store.StatusPaused {
		t.Errorf("unexpected checkpoint after reopen: %+v", got)
	}
}

func TestSQLiteStore_ClosedStore(t *testing.T) {
	st, err := store.NewSQLiteStore[contractState](filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	err = st.SaveCheckpoint(context.Background(), store.Checkpoint[contractState]{ThreadID: "x"})
	if err == nil {
		t.Error("expected error writing to a closed store")
	}
}

func TestSQLiteStore_RejectsUnknownFields(t *testing.T) {
	type wide struct {
		Draft string `json:"draft"`
		Extra string `json:"extra"`
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schema.db")

	writer, err := store.NewSQLiteStore[wide](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := writer.SaveCheckpoint(ctx, store.Checkpoint[wide]{ThreadID: "t", State: wide{Draft: "d", Extra: "x"}}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	_ = writer.Close()

	reader := newSQLiteStore(t, path)
	if _, err := reader.LoadCheckpoint(ctx, "t"); err == nil {
		t.Error("expected decoding a row with unknown fields to fail")
	}
}
