package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/protocol-foundry/graph/emit"
	"github.com/dshills/protocol-foundry/graph/store"
)

// Engine executes a graph of nodes over a typed state S.
//
// The topology is fixed at construction: nodes are added with Add, the
// entry point is set with StartAt, and transitions are declared with
// Connect or ConnectRouter. Execution is a single-threaded walk per
// thread; distinct threads run concurrently and share only the store and
// the emitter.
//
// After every node the engine merges the node's delta with the Reducer,
// resolves the next node, and writes both a step record and the thread's
// checkpoint before moving on. When the next node is listed in
// InterruptBefore, the checkpoint is written with status paused and the
// call returns; Resume later continues from that node.
//
// Example:
//
//	engine := graph.New(reduce, store.NewMemStore[State](), emit.NewNullEmitter(),
//	    graph.WithInterruptBefore("approve"))
//	_ = engine.Add("draft", draftNode)
//	_ = engine.Add("approve", approveNode)
//	_ = engine.StartAt("draft")
//	_ = engine.Connect("draft", "approve", nil)
//	_ = engine.Connect("approve", graph.END, nil)
//
//	cp, err := engine.Run(ctx, "thread-1", State{})
//	// cp.Status == store.StatusPaused, cp.Next == "approve"
//	cp, err = engine.Resume(ctx, "thread-1", State{Approved: true})
//	// cp.Status == store.StatusDone
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string
	interrupt map[string]bool

	store   store.Store[S]
	emitter emit.Emitter
	opts    Options
}

// New creates an engine. A nil emitter discards events.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts ...Option) *Engine[S] {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	interrupt := make(map[string]bool, len(o.InterruptBefore))
	for _, id := range o.InterruptBefore {
		interrupt[id] = true
	}

	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S]{
		reducer:   reducer,
		nodes:     make(map[string]Node[S]),
		store:     st,
		emitter:   emitter,
		opts:      o,
		interrupt: interrupt,
	}
}

// Add registers a node under nodeID.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" || nodeID == END {
		return &EngineError{Message: "invalid node ID: " + fmt.Sprintf("%q", nodeID), Code: CodeInvalidGraph}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: CodeInvalidGraph}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: CodeInvalidGraph}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry node.
func (e *Engine[S]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: CodeNodeNotFound}
	}
	e.startNode = nodeID
	return nil
}

// Connect adds an edge. A nil predicate makes it unconditional. Use END as
// the target to terminate the run.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" || to == "" {
		return &EngineError{Message: "edge endpoints cannot be empty", Code: CodeInvalidGraph}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// ConnectRouter adds one edge per target, each taken when router returns
// that target. A router result outside targets fails the run with NO_ROUTE.
func (e *Engine[S]) ConnectRouter(from string, router Router[S], targets ...string) error {
	if router == nil {
		return &EngineError{Message: "router cannot be nil", Code: CodeInvalidGraph}
	}
	for _, target := range targets {
		target := target
		if err := e.Connect(from, target, func(s S) bool { return router(s) == target }); err != nil {
			return err
		}
	}
	return nil
}

// Run starts a new run for threadID from the start node.
//
// It returns when the run reaches END, pauses before an interrupt node, or
// fails. The returned checkpoint is the last one written.
func (e *Engine[S]) Run(ctx context.Context, threadID string, initial S) (store.Checkpoint[S], error) {
	if err := e.validate(); err != nil {
		return store.Checkpoint[S]{}, err
	}

	if _, err := e.store.LoadCheckpoint(ctx, threadID); err == nil {
		return store.Checkpoint[S]{}, fmt.Errorf("thread %s: %w", threadID, ErrRunExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint[S]{}, &EngineError{Message: "failed to check thread: " + err.Error(), Code: CodeStoreFailed}
	}

	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()

	return e.execute(ctx, threadID, initial, start, 0)
}

// Resume continues a paused run.
//
// update is merged into the checkpointed state with the Reducer before
// execution continues with the node the run paused in front of. Resuming
// an unknown thread returns an error wrapping store.ErrNotFound; resuming
// a thread that is not paused returns an error wrapping ErrNotPaused. In
// both cases nothing is written.
func (e *Engine[S]) Resume(ctx context.Context, threadID string, update S) (store.Checkpoint[S], error) {
	if err := e.validate(); err != nil {
		return store.Checkpoint[S]{}, err
	}

	cp, err := e.pausedCheckpoint(ctx, threadID)
	if err != nil {
		return cp, err
	}

	state := e.reducer(cp.State, update)
	e.emitter.Emit(emit.Event{
		ThreadID: threadID,
		Step:     cp.Step,
		NodeID:   cp.Next,
		Msg:      emit.MsgResumed,
	})

	return e.execute(ctx, threadID, state, cp.Next, cp.Step)
}

// Abort closes a paused run without executing anything further. update is
// merged into the final checkpoint, which is written with status aborted.
func (e *Engine[S]) Abort(ctx context.Context, threadID string, update S) (store.Checkpoint[S], error) {
	cp, err := e.pausedCheckpoint(ctx, threadID)
	if err != nil {
		return cp, err
	}

	cp.State = e.reducer(cp.State, update)
	cp.Status = store.StatusAborted
	cp.Next = ""
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		e.opts.Metrics.IncrementStoreFailures("save_checkpoint")
		return cp, &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: CodeStoreFailed}
	}

	e.opts.Metrics.RecordRunOutcome(string(store.StatusAborted))
	e.emitter.Emit(emit.Event{ThreadID: threadID, Step: cp.Step, Msg: emit.MsgAborted})
	return cp, nil
}

// State returns the latest checkpoint of a thread.
func (e *Engine[S]) State(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	cp, err := e.store.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return cp, fmt.Errorf("thread %s: %w", threadID, err)
	}
	return cp, nil
}

// Threads returns the latest checkpoint of every thread in the store.
func (e *Engine[S]) Threads(ctx context.Context) ([]store.Checkpoint[S], error) {
	return e.store.ListCheckpoints(ctx)
}

func (e *Engine[S]) pausedCheckpoint(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	cp, err := e.store.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return cp, fmt.Errorf("thread %s: %w", threadID, err)
	}
	if cp.Status != store.StatusPaused {
		return cp, fmt.Errorf("thread %s has status %s: %w", threadID, cp.Status, ErrNotPaused)
	}
	return cp, nil
}

func (e *Engine[S]) validate() error {
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: CodeInvalidGraph}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: CodeInvalidGraph}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: CodeNoStartNode}
	}
	return nil
}

// execute walks the graph from current until END, an interrupt, or an
// error. step is the number of node executions already recorded for the
// thread.
func (e *Engine[S]) execute(ctx context.Context, threadID string, state S, current string, step int) (store.Checkpoint[S], error) {
	e.opts.Metrics.RunStarted()
	defer e.opts.Metrics.RunFinished()

	executed := 0
	for {
		if e.opts.MaxSteps > 0 && executed >= e.opts.MaxSteps {
			return e.fail(ctx, threadID, step, current, state, &EngineError{
				Message: fmt.Sprintf("workflow exceeded MaxSteps limit (%d)", e.opts.MaxSteps),
				Code:    CodeMaxSteps,
			})
		}

		if err := ctx.Err(); err != nil {
			return store.Checkpoint[S]{ThreadID: threadID, Step: step, Next: current, Status: store.StatusRunning, State: state}, err
		}

		e.mu.RLock()
		node, exists := e.nodes[current]
		e.mu.RUnlock()
		if !exists {
			return e.fail(ctx, threadID, step, current, state, &EngineError{
				Message: "node not found during execution: " + current,
				Code:    CodeNodeNotFound,
			})
		}

		step++
		executed++
		started := time.Now()
		result := node.Run(ctx, state)
		latency := time.Since(started)

		if result.Err != nil {
			e.opts.Metrics.RecordStepLatency(current, latency, "error")
			return e.fail(ctx, threadID, step-1, current, state, &NodeError{NodeID: current, Step: step, Cause: result.Err})
		}
		e.opts.Metrics.RecordStepLatency(current, latency, "success")

		state = e.reducer(state, result.Delta)

		next := e.resolve(current, state, result.Route)
		if next == "" {
			return e.fail(ctx, threadID, step, current, state, &EngineError{
				Message: "no valid route from node: " + current,
				Code:    CodeNoRoute,
			})
		}

		cp := store.Checkpoint[S]{
			ThreadID: threadID,
			Step:     step,
			NodeID:   current,
			Next:     next,
			Status:   store.StatusRunning,
			State:    state,
		}
		switch {
		case next == END:
			cp.Next = ""
			cp.Status = store.StatusDone
		case e.interrupt[next]:
			cp.Status = store.StatusPaused
		}

		if err := e.persist(ctx, cp); err != nil {
			return cp, err
		}

		e.emitter.Emit(emit.Event{
			ThreadID: threadID,
			Step:     step,
			NodeID:   current,
			Msg:      emit.MsgNodeEnd,
			Meta: map[string]interface{}{
				"latency_ms": latency.Milliseconds(),
				"next":       next,
			},
		})

		switch cp.Status {
		case store.StatusDone:
			e.opts.Metrics.RecordRunOutcome(string(store.StatusDone))
			e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Msg: emit.MsgCompleted})
			return cp, nil
		case store.StatusPaused:
			e.opts.Metrics.RecordRunOutcome(string(store.StatusPaused))
			e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, NodeID: next, Msg: emit.MsgInterrupted})
			return cp, nil
		}

		current = next
	}
}

// resolve returns the next node: the explicit route if the node set one,
// otherwise the first matching edge. Empty means no route.
func (e *Engine[S]) resolve(from string, state S, route Next) string {
	if route.Terminal {
		return END
	}
	if route.To != "" {
		return route.To
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != from {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) persist(ctx context.Context, cp store.Checkpoint[S]) error {
	if err := e.store.SaveStep(ctx, cp.ThreadID, cp.Step, cp.NodeID, cp.State); err != nil {
		e.opts.Metrics.IncrementStoreFailures("save_step")
		return &EngineError{Message: "failed to save step: " + err.Error(), Code: CodeStoreFailed}
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		e.opts.Metrics.IncrementStoreFailures("save_checkpoint")
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: CodeStoreFailed}
	}
	return nil
}

// fail records a failed checkpoint pointing at the node that could not
// complete, emits a node_error event, and returns cause.
func (e *Engine[S]) fail(ctx context.Context, threadID string, step int, nodeID string, state S, cause error) (store.Checkpoint[S], error) {
	cp := store.Checkpoint[S]{
		ThreadID: threadID,
		Step:     step,
		NodeID:   nodeID,
		Next:     nodeID,
		Status:   store.StatusFailed,
		State:    state,
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		e.opts.Metrics.IncrementStoreFailures("save_checkpoint")
	}

	e.opts.Metrics.RecordRunOutcome(string(store.StatusFailed))
	e.emitter.Emit(emit.Event{
		ThreadID: threadID,
		Step:     step,
		NodeID:   nodeID,
		Msg:      emit.MsgNodeError,
		Meta:     map[string]interface{}{"error": cause.Error()},
	})
	return cp, cause
}
