package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// FallbackStore mirrors every write into memory and forwards it to a
// durable primary. When the primary is missing or a write to it fails the
// store keeps serving from memory and reports itself degraded; runs keep
// going without cross-restart durability instead of failing.
//
// Reads prefer the in-memory copy, which always holds this process's most
// recent writes, and fall back to the primary for threads written before a
// restart.
type FallbackStore[S any] struct {
	primary Store[S]
	mem     *MemStore[S]
	logger  *slog.Logger

	mu       sync.RWMutex
	degraded bool
	lastErr  error
}

// NewFallbackStore wraps primary. A nil primary starts the store degraded.
func NewFallbackStore[S any](primary Store[S], logger *slog.Logger) *FallbackStore[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore[S]{
		primary:  primary,
		mem:      NewMemStore[S](),
		logger:   logger,
		degraded: primary == nil,
	}
}

// Degraded reports whether the last durable write failed or no durable
// store is configured.
func (f *FallbackStore[S]) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// LastError returns the error that put the store into degraded mode.
func (f *FallbackStore[S]) LastError() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}

func (f *FallbackStore[S]) record(op, threadID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		if f.degraded && f.primary != nil {
			f.logger.Info("durable store recovered", "op", op, "thread_id", threadID)
		}
		f.degraded = f.primary == nil
		f.lastErr = nil
		return
	}

	if !f.degraded {
		f.logger.Warn("durable store write failed, continuing in memory",
			"op", op, "thread_id", threadID, "error", err)
	}
	f.degraded = true
	f.lastErr = err
}

// SaveStep writes to memory, then to the primary.
func (f *FallbackStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	if err := f.mem.SaveStep(ctx, threadID, step, nodeID, state); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}
	f.record("save_step", threadID, f.primary.SaveStep(ctx, threadID, step, nodeID, state))
	return nil
}

// LoadLatest reads memory first, then the primary.
func (f *FallbackStore[S]) LoadLatest(ctx context.Context, threadID string) (S, int, error) {
	state, step, err := f.mem.LoadLatest(ctx, threadID)
	if err == nil || !errors.Is(err, ErrNotFound) || f.primary == nil {
		return state, step, err
	}
	return f.primary.LoadLatest(ctx, threadID)
}

// SaveCheckpoint writes to memory, then to the primary.
func (f *FallbackStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if err := f.mem.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}
	f.record("save_checkpoint", cp.ThreadID, f.primary.SaveCheckpoint(ctx, cp))
	return nil
}

// LoadCheckpoint reads memory first, then the primary.
func (f *FallbackStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	cp, err := f.mem.LoadCheckpoint(ctx, threadID)
	if err == nil || !errors.Is(err, ErrNotFound) || f.primary == nil {
		return cp, err
	}
	return f.primary.LoadCheckpoint(ctx, threadID)
}

// ListCheckpoints merges both stores, preferring in-memory entries.
func (f *FallbackStore[S]) ListCheckpoints(ctx context.Context) ([]Checkpoint[S], error) {
	local, err := f.mem.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	if f.primary == nil {
		return local, nil
	}

	durable, err := f.primary.ListCheckpoints(ctx)
	if err != nil {
		f.logger.Warn("durable store list failed, returning in-memory checkpoints", "error", err)
		return local, nil
	}

	seen := make(map[string]bool, len(local))
	for _, cp := range local {
		seen[cp.ThreadID] = true
	}
	for _, cp := range durable {
		if !seen[cp.ThreadID] {
			local = append(local, cp)
		}
	}
	return local, nil
}
