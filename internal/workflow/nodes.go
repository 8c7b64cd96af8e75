package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/protocol-foundry/graph"
	"github.com/dshills/protocol-foundry/internal/agents"
)

// Node identifiers.
const (
	NodeDraft      = "draft"
	NodeReview     = "review"
	NodeSynthesize = "synthesize"
	NodeHumanHalt  = "human_halt"
)

// NoFeedback is the supervisor feedback used when there is nothing to
// synthesize.
const NoFeedback = "No feedback available. Continue with original intent."

// SynthesisFailed is the supervisor feedback recorded when synthesis fails.
const SynthesisFailed = "Error in synthesis."

type result = graph.NodeResult[State]

func (w *Workflow) timestamp() string {
	return w.now().UTC().Format(time.RFC3339)
}

func (w *Workflow) elapsed(start time.Time) float64 {
	return w.now().Sub(start).Seconds()
}

// draftNode writes the first draft or a revision. A backend failure keeps
// the previous draft and records the error so history and iteration count
// stay in step.
func (w *Workflow) draftNode(ctx context.Context, s State) result {
	instructions := ""
	if s.IterationCount > 0 {
		instructions = s.SupervisorFeedback
	}

	start := w.now()
	text, err := w.drafter.Draft(ctx, s.UserIntent, instructions)
	if err != nil {
		w.logger.Warn("drafting failed", "iteration", s.IterationCount, "error", err)
		return result{Delta: State{Error: setError(fmt.Sprintf("Drafting error: %v", err))}}
	}

	return result{Delta: State{
		Draft:          text,
		DraftHistory:   []string{text},
		IterationCount: s.IterationCount + 1,
		Error:          clearError(),
		Metadata: map[string]interface{}{
			"drafting_time": w.elapsed(start),
			"last_drafted":  w.timestamp(),
		},
	}}
}

// reviewNode runs both reviewers concurrently. Reviewers never fail, so the
// group only joins them.
func (w *Workflow) reviewNode(ctx context.Context, s State) result {
	start := w.now()

	var safety, clinical agents.Review
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		safety = w.safety.Review(gctx, s.Draft)
		return nil
	})
	g.Go(func() error {
		clinical = w.clinical.Review(gctx, s.Draft)
		return nil
	})
	_ = g.Wait()

	w.logger.Debug("draft reviewed", "safety", safety.Score, "clinical", clinical.Score)

	return result{Delta: State{
		Reviews: []agents.Review{safety, clinical},
		Scores: map[string]int{
			ScoreSafety:   safety.Score,
			ScoreClinical: clinical.Score,
		},
		Error: clearError(),
		Metadata: map[string]interface{}{
			"review_time":   w.elapsed(start),
			"last_reviewed": w.timestamp(),
		},
	}}
}

// synthesizeNode turns the reviews into revision instructions.
func (w *Workflow) synthesizeNode(ctx context.Context, s State) result {
	if len(s.Reviews) == 0 {
		return result{Delta: State{SupervisorFeedback: NoFeedback, Error: clearError()}}
	}

	start := w.now()
	feedback, err := w.supervisor.Synthesize(ctx, agents.SynthesisInput{
		Iteration: s.IterationCount,
		Intent:    s.UserIntent,
		Reviews:   s.Reviews,
	})
	if err != nil {
		w.logger.Warn("synthesis failed", "error", err)
		return result{Delta: State{
			SupervisorFeedback: SynthesisFailed,
			Error:              setError(fmt.Sprintf("Synthesis error: %v", err)),
		}}
	}

	return result{Delta: State{
		SupervisorFeedback: feedback,
		Error:              clearError(),
		Metadata: map[string]interface{}{
			"synthesis_time": w.elapsed(start),
		},
	}}
}

// humanHaltNode runs only after a resume and stamps the decision time.
func (w *Workflow) humanHaltNode(_ context.Context, s State) result {
	return result{Delta: State{
		Metadata: map[string]interface{}{
			"human_reviewed_at": w.timestamp(),
			"human_approved":    s.HumanApproved,
		},
	}}
}
