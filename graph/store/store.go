// Package store provides persistence implementations for graph state.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Status describes where a persisted run currently stands.
type Status string

const (
	// StatusRunning means the run is between nodes and still executing.
	StatusRunning Status = "running"

	// StatusPaused means the run stopped before an interrupt node and is
	// waiting for an external resume.
	StatusPaused Status = "paused"

	// StatusDone means the run reached a terminal route.
	StatusDone Status = "done"

	// StatusFailed means a node or the engine returned an error.
	StatusFailed Status = "failed"

	// StatusAborted means a paused run was closed without continuing.
	StatusAborted Status = "aborted"
)

// Store persists workflow state keyed by thread identifier.
//
// Every node transition produces two writes: an append-only step record
// (audit history) and the thread's single latest checkpoint, which carries
// enough information to continue execution after a process restart.
//
// Implementations must serialize concurrent writes to the same thread and
// must be safe for concurrent use across threads.
type Store[S any] interface {
	// SaveStep appends the state produced by nodeID at the given step.
	SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error

	// LoadLatest returns the most recent step state for a thread.
	// Returns ErrNotFound if the thread has no steps.
	LoadLatest(ctx context.Context, threadID string) (state S, step int, err error)

	// SaveCheckpoint replaces the thread's latest checkpoint.
	SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error

	// LoadCheckpoint returns the thread's latest checkpoint.
	// Returns ErrNotFound if the thread was never checkpointed.
	LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error)

	// ListCheckpoints returns the latest checkpoint of every known thread.
	ListCheckpoints(ctx context.Context) ([]Checkpoint[S], error)
}

// Checkpoint is the resumable snapshot of one thread.
type Checkpoint[S any] struct {
	// ThreadID identifies the run.
	ThreadID string `json:"thread_id"`

	// Step is the number of node executions performed so far.
	Step int `json:"step"`

	// NodeID is the last node that completed.
	NodeID string `json:"node_id"`

	// Next is the node that runs when execution continues. Empty once the
	// run is terminal.
	Next string `json:"next"`

	// Status is the run status at the time of the write.
	Status Status `json:"status"`

	// State is the full workflow state after NodeID completed.
	State S `json:"state"`

	// UpdatedAt is set by the store on every write.
	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord is one entry of a thread's step history.
type StepRecord[S any] struct {
	Step   int
	NodeID string
	State  S
}
