package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/protocol-foundry/graph/emit"
	"github.com/dshills/protocol-foundry/graph/store"
	"github.com/dshills/protocol-foundry/internal/workflow"
)

// DefaultMaxConcurrentRuns bounds runs executing at once.
const DefaultMaxConcurrentRuns = 8

// Runner executes workflow threads. *workflow.Workflow implements it.
type Runner interface {
	Start(ctx context.Context, threadID, intent string, preApproved bool) (workflow.Checkpoint, error)
	Approve(ctx context.Context, threadID, editedDraft, feedback string) (workflow.Checkpoint, error)
	Reject(ctx context.Context, threadID, feedback string) (workflow.Checkpoint, error)
	Checkpoint(ctx context.Context, threadID string) (workflow.Checkpoint, error)
	Checkpoints(ctx context.Context) ([]workflow.Checkpoint, error)
}

// Options configures a Registry.
type Options struct {
	// MaxConcurrentRuns defaults to DefaultMaxConcurrentRuns.
	MaxConcurrentRuns int

	// Events receives the registry's event log entries. Pass the same
	// emitter to the workflow engine to interleave node events. A nil value
	// creates a private buffer.
	Events *emit.BufferedEmitter

	Logger *slog.Logger
	Now    func() time.Time
}

// Registry maps thread ids to tasks and dispatches runs in the background.
//
// Runs are fire-and-forget: Submit and Resume return as soon as the task
// record is updated and the run goroutine is queued. A weighted semaphore
// bounds how many runs execute at once; queued runs stay pending.
type Registry struct {
	runner Runner
	events *emit.BufferedEmitter
	sem    *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time

	wg sync.WaitGroup

	mu      sync.RWMutex
	tasks   map[string]*Task
	closing bool
}

// NewRegistry creates a registry over runner.
func NewRegistry(runner Runner, opts Options) *Registry {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if opts.Events == nil {
		opts.Events = emit.NewBufferedEmitter(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		runner: runner,
		events: opts.Events,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		logger: opts.Logger.With("component", "tasks"),
		now:    opts.Now,
		tasks:  make(map[string]*Task),
	}
}

// Submit creates a task for intent and starts its run in the background.
// An empty threadID gets a generated one.
func (r *Registry) Submit(ctx context.Context, intent, threadID string) (Task, error) {
	task, err := r.create(ctx, intent, threadID)
	if err != nil {
		return Task{}, err
	}

	r.dispatch(task.ThreadID, func(ctx context.Context) (workflow.Checkpoint, error) {
		r.update(task.ThreadID, func(t *Task) { t.Status = StatusRunning })
		r.record(task.ThreadID, EventRunStarted, map[string]interface{}{"intent": intent})
		return r.runner.Start(ctx, task.ThreadID, intent, false)
	})
	return task, nil
}

// RunApproved executes a pre-approved run synchronously. The workflow
// finalizes after the first synthesis without halting.
func (r *Registry) RunApproved(ctx context.Context, intent string) (Task, error) {
	task, err := r.create(ctx, intent, "")
	if err != nil {
		return Task{}, err
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(task.ThreadID, workflow.Checkpoint{}, err)
		return r.snapshot(task.ThreadID), err
	}
	defer r.sem.Release(1)

	r.update(task.ThreadID, func(t *Task) { t.Status = StatusRunning })
	r.record(task.ThreadID, EventRunStarted, map[string]interface{}{"intent": intent, "pre_approved": true})
	cp, err := r.runner.Start(ctx, task.ThreadID, intent, true)
	r.finish(task.ThreadID, cp, err)
	return r.snapshot(task.ThreadID), err
}

// Resume applies a human decision to a halted task. Approval continues the
// run in the background; rejection closes it without running any node.
func (r *Registry) Resume(ctx context.Context, threadID string, d Decision) (Task, error) {
	if _, err := r.Get(ctx, threadID); err != nil {
		return Task{}, err
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return Task{}, ErrShuttingDown
	}
	t := r.tasks[threadID]
	if t.Status != StatusHalted {
		status := t.Status
		r.mu.Unlock()
		return Task{}, fmt.Errorf("thread %s has status %s: %w", threadID, status, ErrNotHalted)
	}
	t.Status = StatusResuming
	t.UpdatedAt = r.now().UTC()
	r.mu.Unlock()

	meta := map[string]interface{}{}
	if d.Feedback != "" {
		meta["feedback"] = d.Feedback
	}

	if !d.Approved {
		cp, err := r.runner.Reject(ctx, threadID, d.Feedback)
		if err != nil {
			r.update(threadID, func(t *Task) { t.Status = StatusHalted })
			return Task{}, err
		}
		r.record(threadID, EventHumanRejected, meta)
		r.apply(threadID, cp)
		return r.snapshot(threadID), nil
	}

	if d.EditedDraft != "" {
		meta["edited_draft"] = true
	}
	r.record(threadID, EventHumanApproved, meta)
	r.dispatch(threadID, func(ctx context.Context) (workflow.Checkpoint, error) {
		return r.runner.Approve(ctx, threadID, d.EditedDraft, d.Feedback)
	})
	return r.snapshot(threadID), nil
}

// Get returns a task with its latest checkpointed state. Threads unknown to
// the registry are rebuilt from the checkpoint store.
func (r *Registry) Get(ctx context.Context, threadID string) (Task, error) {
	cp, cpErr := r.runner.Checkpoint(ctx, threadID)
	if cpErr != nil && !errors.Is(cpErr, store.ErrNotFound) {
		return Task{}, cpErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[threadID]
	switch {
	case ok && cpErr == nil:
		state := cp.State
		t.State = &state
		t.Next = nextFor(t.Status, cp)
	case !ok && cpErr == nil:
		rebuilt := fromCheckpoint(cp)
		t = &rebuilt
		r.tasks[threadID] = t
		r.logger.Info("rehydrated task from checkpoint", "thread_id", threadID, "status", t.Status)
	case !ok:
		return Task{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return *t, nil
}

// List returns every known task, oldest first, including tasks only present
// in the checkpoint store.
func (r *Registry) List(ctx context.Context) ([]Task, error) {
	if err := r.Rehydrate(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Rehydrate loads tasks for every checkpointed thread the registry does not
// know about.
func (r *Registry) Rehydrate(ctx context.Context) error {
	cps, err := r.runner.Checkpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cp := range cps {
		if _, ok := r.tasks[cp.ThreadID]; ok {
			continue
		}
		t := fromCheckpoint(cp)
		r.tasks[cp.ThreadID] = &t
	}
	return nil
}

// Events returns the thread's event log.
func (r *Registry) Events(ctx context.Context, threadID string) ([]emit.Event, error) {
	if _, err := r.Get(ctx, threadID); err != nil {
		return nil, err
	}
	return r.events.History(threadID), nil
}

// Counts returns the number of tasks per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// Shutdown stops accepting work and waits for in-flight runs until ctx is
// done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight runs: %w", ctx.Err())
	}
}

func (r *Registry) create(ctx context.Context, intent, threadID string) (Task, error) {
	if intent == "" {
		return Task{}, ErrEmptyIntent
	}
	if threadID == "" {
		threadID = NewThreadID()
	} else if _, err := r.runner.Checkpoint(ctx, threadID); err == nil {
		return Task{}, fmt.Errorf("thread %s: %w", threadID, ErrTaskExists)
	}

	now := r.now().UTC()
	task := &Task{
		ThreadID:  threadID,
		Status:    StatusPending,
		Intent:    intent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return Task{}, ErrShuttingDown
	}
	if _, ok := r.tasks[threadID]; ok {
		return Task{}, fmt.Errorf("thread %s: %w", threadID, ErrTaskExists)
	}
	r.tasks[threadID] = task
	return *task, nil
}

// dispatch runs fn in its own goroutine once a run slot is free. Runs are
// detached from the request that started them.
func (r *Registry) dispatch(threadID string, fn func(context.Context) (workflow.Checkpoint, error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx := context.Background()
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.finish(threadID, workflow.Checkpoint{}, err)
			return
		}
		defer r.sem.Release(1)

		cp, err := fn(ctx)
		r.finish(threadID, cp, err)
	}()
}

// finish records the outcome of a run.
func (r *Registry) finish(threadID string, cp workflow.Checkpoint, err error) {
	if err != nil {
		r.logger.Error("run failed", "thread_id", threadID, "error", err)
		r.update(threadID, func(t *Task) {
			t.Status = StatusError
			t.Error = err.Error()
			if cp.ThreadID != "" {
				state := cp.State
				t.State = &state
			}
			t.Next = ""
		})
		r.record(threadID, EventRunFailed, map[string]interface{}{"error": err.Error()})
		return
	}
	r.apply(threadID, cp)
}

// apply copies a checkpoint into the task and logs the matching event.
func (r *Registry) apply(threadID string, cp workflow.Checkpoint) {
	status := statusFor(cp)
	r.update(threadID, func(t *Task) {
		state := cp.State
		t.State = &state
		t.Next = nextFor(status, cp)
		t.Status = status
		t.Error = ""
	})

	switch status {
	case StatusHalted:
		r.record(threadID, EventRunHalted, map[string]interface{}{"next": cp.Next, "scores": cp.State.Scores})
	case StatusCompleted:
		r.record(threadID, EventRunCompleted, map[string]interface{}{"iterations": cp.State.IterationCount})
	}
	r.logger.Info("run settled", "thread_id", threadID, "status", status, "step", cp.Step)
}

func (r *Registry) update(threadID string, fn func(*Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[threadID]; ok {
		fn(t)
		t.UpdatedAt = r.now().UTC()
	}
}

func (r *Registry) snapshot(threadID string) Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tasks[threadID]; ok {
		return *t
	}
	return Task{}
}

func (r *Registry) record(threadID, msg string, meta map[string]interface{}) {
	if len(meta) == 0 {
		meta = nil
	}
	r.events.Emit(emit.Event{ThreadID: threadID, Msg: msg, Meta: meta, Time: r.now().UTC()})
}
