package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/protocol-foundry/graph"
	"github.com/dshills/protocol-foundry/graph/emit"
	"github.com/dshills/protocol-foundry/graph/store"
	"github.com/dshills/protocol-foundry/internal/agents"
)

// DefaultMaxSteps bounds node executions per Run or Resume call.
const DefaultMaxSteps = 50

// Checkpoint is a persisted snapshot of one thread.
type Checkpoint = store.Checkpoint[State]

// Config wires the workflow's collaborators. Drafter, Safety, Clinical,
// Supervisor and Store are required.
type Config struct {
	Drafter    *agents.Drafter
	Safety     *agents.Reviewer
	Clinical   *agents.Reviewer
	Supervisor *agents.Supervisor

	Store   store.Store[State]
	Emitter emit.Emitter
	Metrics *graph.PrometheusMetrics
	Logger  *slog.Logger

	// Policy defaults to DefaultPolicy when zero.
	Policy Policy

	// MaxSteps defaults to DefaultMaxSteps when zero.
	MaxSteps int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Workflow runs the draft, review and synthesize loop on a graph engine
// that pauses before human_halt.
type Workflow struct {
	engine     *graph.Engine[State]
	drafter    *agents.Drafter
	safety     *agents.Reviewer
	clinical   *agents.Reviewer
	supervisor *agents.Supervisor
	policy     Policy
	logger     *slog.Logger
	now        func() time.Time
}

// New builds the graph.
func New(cfg Config) (*Workflow, error) {
	if cfg.Drafter == nil || cfg.Safety == nil || cfg.Clinical == nil || cfg.Supervisor == nil {
		return nil, errors.New("workflow: drafter, reviewers and supervisor are required")
	}
	if cfg.Store == nil {
		return nil, errors.New("workflow: store is required")
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &Workflow{
		drafter:    cfg.Drafter,
		safety:     cfg.Safety,
		clinical:   cfg.Clinical,
		supervisor: cfg.Supervisor,
		policy:     cfg.Policy,
		logger:     cfg.Logger.With("component", "workflow"),
		now:        cfg.Now,
	}

	opts := []graph.Option{
		graph.WithInterruptBefore(NodeHumanHalt),
		graph.WithMaxSteps(cfg.MaxSteps),
	}
	if cfg.Metrics != nil {
		opts = append(opts, graph.WithMetrics(cfg.Metrics))
	}
	engine := graph.New[State](Reduce, cfg.Store, cfg.Emitter, opts...)

	nodes := map[string]graph.NodeFunc[State]{
		NodeDraft:      w.draftNode,
		NodeReview:     w.reviewNode,
		NodeSynthesize: w.synthesizeNode,
		NodeHumanHalt:  w.humanHaltNode,
	}
	for _, id := range []string{NodeDraft, NodeReview, NodeSynthesize, NodeHumanHalt} {
		if err := engine.Add(id, nodes[id]); err != nil {
			return nil, err
		}
	}

	steps := []error{
		engine.StartAt(NodeDraft),
		engine.Connect(NodeDraft, NodeReview, nil),
		engine.Connect(NodeReview, NodeSynthesize, nil),
		engine.ConnectRouter(NodeSynthesize, w.policy.Route, NodeDraft, NodeHumanHalt, graph.END),
		engine.Connect(NodeHumanHalt, NodeSynthesize, nil),
	}
	if err := errors.Join(steps...); err != nil {
		return nil, err
	}

	w.engine = engine
	return w, nil
}

// Policy returns the routing thresholds in use.
func (w *Workflow) Policy() Policy {
	return w.policy
}

// Start runs a new thread for intent until it halts, finishes or fails.
// A pre-approved run finalizes after its first synthesis.
func (w *Workflow) Start(ctx context.Context, threadID, intent string, preApproved bool) (Checkpoint, error) {
	initial := NewState(intent)
	initial.HumanApproved = preApproved
	return w.engine.Run(ctx, threadID, initial)
}

// Approve resumes a halted thread. A non-empty editedDraft replaces the
// current draft and feedback is kept in metadata.
func (w *Workflow) Approve(ctx context.Context, threadID, editedDraft, feedback string) (Checkpoint, error) {
	update := State{HumanApproved: true, Draft: editedDraft}
	if feedback != "" {
		update.Metadata = map[string]interface{}{"human_feedback": feedback}
	}
	return w.engine.Resume(ctx, threadID, update)
}

// Reject closes a halted thread without running any node.
func (w *Workflow) Reject(ctx context.Context, threadID, feedback string) (Checkpoint, error) {
	meta := map[string]interface{}{"human_rejected_at": w.now().UTC().Format(time.RFC3339)}
	if feedback != "" {
		meta["human_feedback"] = feedback
	}
	return w.engine.Abort(ctx, threadID, State{Metadata: meta})
}

// Checkpoint returns a thread's latest checkpoint.
func (w *Workflow) Checkpoint(ctx context.Context, threadID string) (Checkpoint, error) {
	return w.engine.State(ctx, threadID)
}

// Checkpoints returns the latest checkpoint of every stored thread.
func (w *Workflow) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	return w.engine.Threads(ctx)
}
