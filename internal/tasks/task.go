// Package tasks tracks workflow runs by thread id and mediates the
// halt/resume contract between callers and the workflow.
package tasks

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/protocol-foundry/graph/store"
	"github.com/dshills/protocol-foundry/internal/workflow"
)

// Status is where a task stands from the caller's point of view.
type Status string

// Task statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusHalted    Status = "halted"
	StatusResuming  Status = "resuming"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusError     Status = "error"
)

// Event log entries recorded by the registry.
const (
	EventRunStarted    = "run_started"
	EventRunHalted     = "run_halted"
	EventHumanApproved = "human_approved"
	EventHumanRejected = "human_rejected"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
)

// RestartMessage is the error of a task whose run was cut off by a
// process restart.
const RestartMessage = "interrupted by restart"

// FailedMessage is the error of a rebuilt task whose run had failed and
// whose checkpoint carries no error of its own.
const FailedMessage = "run failed before restart"

// Sentinel errors.
var (
	ErrNotFound     = errors.New("task not found")
	ErrNotHalted    = errors.New("task is not halted")
	ErrEmptyIntent  = errors.New("intent must not be empty")
	ErrTaskExists   = errors.New("task already exists")
	ErrShuttingDown = errors.New("registry is shutting down")
)

// Task is the registry's view of one thread.
type Task struct {
	ThreadID  string          `json:"thread_id"`
	Status    Status          `json:"status"`
	Intent    string          `json:"intent"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     *workflow.State `json:"state"`
	Next      string          `json:"next"`
	Error     string          `json:"error,omitempty"`
}

// Decision is a human verdict on a halted task.
type Decision struct {
	Approved    bool   `json:"approved"`
	Feedback    string `json:"feedback,omitempty"`
	EditedDraft string `json:"edited_draft,omitempty"`
}

// NewThreadID returns an id of the form thread_<8 hex>.
func NewThreadID() string {
	return "thread_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// statusFor maps a checkpoint status onto a task status.
func statusFor(cp workflow.Checkpoint) Status {
	switch cp.Status {
	case store.StatusPaused:
		return StatusHalted
	case store.StatusDone:
		return StatusCompleted
	case store.StatusAborted:
		return StatusRejected
	case store.StatusFailed:
		return StatusError
	default:
		return StatusRunning
	}
}

// nextFor returns the node a task waits on. Only halted tasks wait.
func nextFor(status Status, cp workflow.Checkpoint) string {
	if status != StatusHalted {
		return ""
	}
	return cp.Next
}

// fromCheckpoint rebuilds a task the registry has no record of. Runs that
// were executing when the process stopped are reported as interrupted;
// runs that had already failed keep their cause.
func fromCheckpoint(cp workflow.Checkpoint) Task {
	state := cp.State
	t := Task{
		ThreadID:  cp.ThreadID,
		Status:    statusFor(cp),
		Intent:    state.UserIntent,
		CreatedAt: cp.UpdatedAt,
		UpdatedAt: cp.UpdatedAt,
		State:     &state,
		Next:      nextFor(statusFor(cp), cp),
	}
	switch t.Status {
	case StatusRunning:
		t.Status = StatusError
		t.Error = RestartMessage
	case StatusError:
		t.Error = state.ErrorMessage()
		if t.Error == "" {
			t.Error = FailedMessage
		}
	}
	return t
}
