package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocol-foundry/graph"
	"github.com/dshills/protocol-foundry/graph/emit"
	"github.com/dshills/protocol-foundry/graph/model"
	"github.com/dshills/protocol-foundry/graph/store"
	"github.com/dshills/protocol-foundry/internal/agents"
)

const (
	safePass     = `{"reasoning": "fine", "score": 9, "is_safe": true, "revision_notes": "none"}`
	clinicalPass = `{"reasoning": "clear", "score": 8, "passes_critique": true, "revision_notes": "none"}`
	safeMediocre = `{"reasoning": "tone", "score": 7, "is_safe": true, "revision_notes": "warmer tone"}`
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	drafter    *model.MockChatModel
	safety     *model.MockChatModel
	clinical   *model.MockChatModel
	supervisor *model.MockChatModel
	store      *store.MemStore[State]
	events     *emit.BufferedEmitter
	wf         *Workflow
}

func newFixture(t *testing.T, safetyOut, clinicalOut string, mutate ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		drafter:    &model.MockChatModel{Responses: []model.ChatOut{{Text: "draft v1"}, {Text: "draft v2"}, {Text: "draft v3"}}},
		safety:     &model.MockChatModel{Responses: []model.ChatOut{{Text: safetyOut}}},
		clinical:   &model.MockChatModel{Responses: []model.ChatOut{{Text: clinicalOut}}},
		supervisor: &model.MockChatModel{Responses: []model.ChatOut{{Text: "• Be warmer"}}},
		store:      store.NewMemStore[State](),
		events:     emit.NewBufferedEmitter(0),
	}

	cfg := Config{
		Drafter:    agents.NewDrafter(f.drafter, agents.DraftParams),
		Safety:     agents.NewSafetyGuardian(f.safety, agents.ReviewParams, nil, nil),
		Clinical:   agents.NewClinicalCritic(f.clinical, agents.ReviewParams, nil, nil),
		Supervisor: agents.NewSupervisor(f.supervisor, agents.SupervisorParams),
		Store:      f.store,
		Emitter:    f.events,
		Now:        func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}

	wf, err := New(cfg)
	require.NoError(t, err)
	f.wf = wf
	return f
}

func TestStart_HaltsForApproval(t *testing.T) {
	f := newFixture(t, safePass, clinicalPass)

	cp, err := f.wf.Start(context.Background(), "t1", "exam anxiety", false)
	require.NoError(t, err)

	assert.Equal(t, store.StatusPaused, cp.Status)
	assert.Equal(t, NodeHumanHalt, cp.Next)
	assert.Equal(t, NodeSynthesize, cp.NodeID)
	assert.Equal(t, 3, cp.Step)

	s := cp.State
	assert.Equal(t, "exam anxiety", s.UserIntent)
	assert.Equal(t, "draft v1", s.Draft)
	assert.Equal(t, []string{"draft v1"}, s.DraftHistory)
	assert.Equal(t, 1, s.IterationCount)
	assert.Equal(t, map[string]int{ScoreSafety: 9, ScoreClinical: 8}, s.Scores)
	require.Len(t, s.Reviews, 2)
	assert.Equal(t, agents.SafetyGuardian, s.Reviews[0].Agent)
	assert.Equal(t, agents.ClinicalCritic, s.Reviews[1].Agent)
	assert.Equal(t, "• Be warmer", s.SupervisorFeedback)
	assert.Nil(t, s.Error)
	assert.False(t, s.HumanApproved)
	assert.Equal(t, "2026-03-01T12:00:00Z", s.Metadata["last_drafted"])
	assert.Equal(t, "2026-03-01T12:00:00Z", s.Metadata["last_reviewed"])
	assert.Contains(t, s.Metadata, "synthesis_time")

	interrupts := f.events.HistoryWithFilter("t1", emit.HistoryFilter{Msg: emit.MsgInterrupted})
	require.Len(t, interrupts, 1)
	assert.Equal(t, NodeHumanHalt, interrupts[0].NodeID)
}

func TestStart_RevisesUntilIterationLimit(t *testing.T) {
	f := newFixture(t, safeMediocre, clinicalPass)

	cp, err := f.wf.Start(context.Background(), "t1", "procrastination", false)
	require.NoError(t, err)

	assert.Equal(t, store.StatusPaused, cp.Status)
	assert.Equal(t, 3, cp.State.IterationCount)
	assert.Equal(t, []string{"draft v1", "draft v2", "draft v3"}, cp.State.DraftHistory)
	assert.Equal(t, "draft v3", cp.State.Draft)
	assert.Equal(t, 3, f.drafter.CallCount())

	first := f.drafter.Calls[0].Messages[1].Content
	second := f.drafter.Calls[1].Messages[1].Content
	assert.True(t, strings.HasSuffix(first, "Revision Instructions: "+agents.InitialInstructions))
	assert.True(t, strings.HasSuffix(second, "Revision Instructions: • Be warmer"))
}

func TestStart_FailedDraftKeepsHistoryInvariant(t *testing.T) {
	f := newFixture(t, safeMediocre, clinicalPass)
	calls := 0
	f.drafter.Respond = func([]model.Message, model.Params) (model.ChatOut, error) {
		calls++
		if calls == 1 {
			return model.ChatOut{}, errors.New("backend unavailable")
		}
		return model.ChatOut{Text: "recovered draft"}, nil
	}

	cp, err := f.wf.Start(context.Background(), "t1", "sleep", false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, cp.Status)
	assert.Equal(t, 3, cp.State.IterationCount)
	assert.Len(t, cp.State.DraftHistory, 3)

	steps, err := f.store.History(context.Background(), "t1")
	require.NoError(t, err)
	require.NotEmpty(t, steps)

	first := steps[0]
	assert.Equal(t, NodeDraft, first.NodeID)
	assert.Equal(t, "Drafting error: backend unavailable", first.State.ErrorMessage())
	assert.Empty(t, first.State.Draft)

	for _, step := range steps {
		if step.NodeID == NodeDraft {
			assert.Equal(t, step.State.IterationCount, len(step.State.DraftHistory), "step %d", step.Step)
		}
		if step.NodeID == NodeReview {
			assert.Nil(t, step.State.Error, "review clears the error")
		}
	}
}

func TestApprove_ContinuesWithoutRedrafting(t *testing.T) {
	f := newFixture(t, safePass, clinicalPass)
	ctx := context.Background()

	_, err := f.wf.Start(ctx, "t1", "intent", false)
	require.NoError(t, err)

	cp, err := f.wf.Approve(ctx, "t1", "edited by a human", "looks good")
	require.NoError(t, err)

	assert.Equal(t, store.StatusDone, cp.Status)
	assert.Empty(t, cp.Next)
	assert.Equal(t, NodeSynthesize, cp.NodeID)
	assert.True(t, cp.State.HumanApproved)
	assert.Equal(t, "edited by a human", cp.State.Draft)
	assert.Equal(t, 1, cp.State.IterationCount)
	assert.Equal(t, []string{"draft v1"}, cp.State.DraftHistory)
	assert.Equal(t, "looks good", cp.State.Metadata["human_feedback"])
	assert.Contains(t, cp.State.Metadata, "human_reviewed_at")

	assert.Equal(t, 1, f.drafter.CallCount())
	assert.Equal(t, 1, f.safety.CallCount())
	assert.Equal(t, 2, f.supervisor.CallCount())
}

func TestReject_RunsNoNodes(t *testing.T) {
	f := newFixture(t, safePass, clinicalPass)
	ctx := context.Background()

	halted, err := f.wf.Start(ctx, "t1", "intent", false)
	require.NoError(t, err)

	cp, err := f.wf.Reject(ctx, "t1", "too long")
	require.NoError(t, err)

	assert.Equal(t, store.StatusAborted, cp.Status)
	assert.Equal(t, halted.Step, cp.Step)
	assert.Equal(t, "too long", cp.State.Metadata["human_feedback"])
	assert.False(t, cp.State.HumanApproved)
	assert.Equal(t, 1, f.drafter.CallCount())
	assert.Equal(t, 1, f.supervisor.CallCount())
}

func TestResume_InvalidThreads(t *testing.T) {
	f := newFixture(t, safePass, clinicalPass)
	ctx := context.Background()

	_, err := f.wf.Approve(ctx, "missing", "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.wf.Reject(ctx, "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	done, err := f.wf.Start(ctx, "auto", "intent", true)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, done.Status)

	_, err = f.wf.Approve(ctx, "auto", "changed", "")
	assert.ErrorIs(t, err, graph.ErrNotPaused)
	_, err = f.wf.Reject(ctx, "auto", "")
	assert.ErrorIs(t, err, graph.ErrNotPaused)

	after, err := f.wf.Checkpoint(ctx, "auto")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, after.Status)
	assert.Equal(t, done.Step, after.Step)
	assert.Equal(t, "draft v1", after.State.Draft)
}

func TestStart_PreApprovedFinalizesAfterFirstSynthesis(t *testing.T) {
	f := newFixture(t, safeMediocre, clinicalPass)

	cp, err := f.wf.Start(context.Background(), "auto", "intent", true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, cp.Status)
	assert.Equal(t, 3, cp.Step)
	assert.Equal(t, "draft v1", cp.State.Draft)
	assert.Equal(t, 1, f.drafter.CallCount())
}

func TestStart_SynthesisFailureHalts(t *testing.T) {
	f := newFixture(t, safeMediocre, clinicalPass)
	f.supervisor.Err = errors.New("quota exceeded")

	cp, err := f.wf.Start(context.Background(), "t1", "intent", false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, cp.Status)
	assert.Equal(t, SynthesisFailed, cp.State.SupervisorFeedback)
	assert.Equal(t, "Synthesis error: quota exceeded", cp.State.ErrorMessage())
	assert.Equal(t, 1, cp.State.IterationCount)
}

func TestStart_RunawayLoopHitsMaxSteps(t *testing.T) {
	f := newFixture(t, safeMediocre, clinicalPass, func(c *Config) {
		c.Policy = Policy{HaltSafety: 11, HaltClinical: 11, MaxIterations: 100, ReviseSafety: 10, ReviseClinical: 10}
		c.MaxSteps = 7
	})

	cp, err := f.wf.Start(context.Background(), "t1", "intent", false)
	require.Error(t, err)
	assert.True(t, graph.IsEngineError(err, graph.CodeMaxSteps))
	assert.Equal(t, store.StatusFailed, cp.Status)
}

func TestStart_OfflineModels(t *testing.T) {
	offline := agents.NewOfflineModel()
	wf, err := New(Config{
		Drafter:    agents.NewDrafter(offline, agents.DraftParams),
		Safety:     agents.NewSafetyGuardian(offline, agents.ReviewParams, nil, nil),
		Clinical:   agents.NewClinicalCritic(offline, agents.ReviewParams, nil, nil),
		Supervisor: agents.NewSupervisor(offline, agents.SupervisorParams),
		Store:      store.NewMemStore[State](),
	})
	require.NoError(t, err)

	cp, err := wf.Start(context.Background(), "offline", "anything", false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, cp.Status)
	assert.Equal(t, map[string]int{ScoreSafety: 9, ScoreClinical: 8}, cp.State.Scores)
	assert.Equal(t, agents.OfflineExercise, cp.State.Draft)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	offline := agents.NewOfflineModel()
	_, err = New(Config{
		Drafter:    agents.NewDrafter(offline, agents.DraftParams),
		Safety:     agents.NewSafetyGuardian(offline, agents.ReviewParams, nil, nil),
		Clinical:   agents.NewClinicalCritic(offline, agents.ReviewParams, nil, nil),
		Supervisor: agents.NewSupervisor(offline, agents.SupervisorParams),
	})
	assert.Error(t, err, "store is required")
}

func TestSynthesizeNode_NoReviews(t *testing.T) {
	f := newFixture(t, safePass, clinicalPass)
	res := f.wf.synthesizeNode(context.Background(), NewState("x"))
	assert.Equal(t, NoFeedback, res.Delta.SupervisorFeedback)
	assert.Equal(t, 0, f.supervisor.CallCount())
}
