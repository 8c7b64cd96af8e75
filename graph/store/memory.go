package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// It is safe for concurrent use and copies state on every write and read,
// so callers never share maps or slices with the store. Contents are lost
// when the process exits: MemStore is the degraded, non-durable option and
// the default for tests.
type MemStore[S any] struct {
	mu          sync.RWMutex
	steps       map[string][]StepRecord[S] // threadID -> step history
	checkpoints map[string]Checkpoint[S]   // threadID -> latest checkpoint
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:       make(map[string][]StepRecord[S]),
		checkpoints: make(map[string]Checkpoint[S]),
	}
}

// SaveStep appends a step record for the thread.
func (m *MemStore[S]) SaveStep(_ context.Context, threadID string, step int, nodeID string, state S) error {
	copied, err := cloneState(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps[threadID] = append(m.steps[threadID], StepRecord[S]{
		Step:   step,
		NodeID: nodeID,
		State:  copied,
	})
	return nil
}

// LoadLatest returns the highest-numbered step for the thread.
func (m *MemStore[S]) LoadLatest(_ context.Context, threadID string) (state S, step int, err error) {
	m.mu.RLock()
	records, exists := m.steps[threadID]
	if !exists || len(records) == 0 {
		m.mu.RUnlock()
		var zero S
		return zero, 0, ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Step > latest.Step {
			latest = record
		}
	}
	m.mu.RUnlock()

	copied, err := cloneState(latest.State)
	if err != nil {
		var zero S
		return zero, 0, err
	}
	return copied, latest.Step, nil
}

// SaveCheckpoint replaces the thread's checkpoint.
func (m *MemStore[S]) SaveCheckpoint(_ context.Context, cp Checkpoint[S]) error {
	copied, err := cloneState(cp.State)
	if err != nil {
		return err
	}
	cp.State = copied
	cp.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[cp.ThreadID] = cp
	return nil
}

// LoadCheckpoint returns the thread's checkpoint.
func (m *MemStore[S]) LoadCheckpoint(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	cp, exists := m.checkpoints[threadID]
	m.mu.RUnlock()

	if !exists {
		return Checkpoint[S]{}, ErrNotFound
	}

	copied, err := cloneState(cp.State)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	cp.State = copied
	return cp, nil
}

// ListCheckpoints returns every checkpoint ordered by thread ID.
func (m *MemStore[S]) ListCheckpoints(ctx context.Context) ([]Checkpoint[S], error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)

	out := make([]Checkpoint[S], 0, len(ids))
	for _, id := range ids {
		cp, err := m.LoadCheckpoint(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// History returns the step records of a thread in step order.
func (m *MemStore[S]) History(_ context.Context, threadID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, exists := m.steps[threadID]
	if !exists {
		return nil, ErrNotFound
	}

	out := make([]StepRecord[S], len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}
