package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dshills/protocol-foundry/graph/store"
)

// flakyStore wraps a MemStore and fails writes while broken is set.
type flakyStore struct {
	*store.MemStore[contractState]
	mu     sync.Mutex
	broken bool
}

func (f *flakyStore) setBroken(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = b
}

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("disk full")
	}
	return nil
}

func (f *flakyStore) SaveStep(ctx context.Context, id string, step int, node string, s contractState) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemStore.SaveStep(ctx, id, step, node, s)
}

func (f *flakyStore) SaveCheckpoint(ctx context.Context, cp store.Checkpoint[contractState]) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemStore.SaveCheckpoint(ctx, cp)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackStore_Contract(t *testing.T) {
	primary := &flakyStore{MemStore: store.NewMemStore[contractState]()}
	runStoreContract(t, store.NewFallbackStore[contractState](primary, quietLogger()))
}

func TestFallbackStore_NilPrimaryIsDegraded(t *testing.T) {
	st := store.NewFallbackStore[contractState](nil, quietLogger())
	if !st.Degraded() {
		t.Fatal("expected degraded store without a primary")
	}
	runStoreContract(t, st)
}

func TestFallbackStore_WriteFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemStore: store.NewMemStore[contractState]()}
	st := store.NewFallbackStore[contractState](primary, quietLogger())

	primary.setBroken(true)
	cp := store.Checkpoint[contractState]{ThreadID: "t", Step: 1, Status: store.StatusRunning, State: contractState{Draft: "kept"}}
	if err := st.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint should not fail when only the primary fails: %v", err)
	}
	if !st.Degraded() {
		t.Error("expected store to report degraded after a failed durable write")
	}
	if st.LastError() == nil {
		t.Error("expected LastError to carry the durable failure")
	}

	got, err := st.LoadCheckpoint(ctx, "t")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.State.Draft != "kept" {
		t.Errorf("in-memory state lost: %+v", got.State)
	}
	if _, err := primary.LoadCheckpoint(ctx, "t"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("primary should not have the checkpoint, got %v", err)
	}

	primary.setBroken(false)
	if err := st.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if st.Degraded() {
		t.Error("expected store to recover after a successful durable write")
	}
}

func TestFallbackStore_ReadsThroughToPrimary(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemStore: store.NewMemStore[contractState]()}
	if err := primary.SaveCheckpoint(ctx, store.Checkpoint[contractState]{ThreadID: "old", State: contractState{Draft: "before restart"}}); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	st := store.NewFallbackStore[contractState](primary, quietLogger())
	got, err := st.LoadCheckpoint(ctx, "old")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.State.Draft != "before restart" {
		t.Errorf("unexpected state %+v", got.State)
	}

	all, err := st.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(all) != 1 || all[0].ThreadID != "old" {
		t.Errorf("expected primary-only thread in list, got %+v", all)
	}
}
