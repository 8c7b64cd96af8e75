package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocol-foundry/graph"
	"github.com/dshills/protocol-foundry/internal/agents"
)

func TestReduce(t *testing.T) {
	prev := NewState("intent")
	prev.Draft = "v1"
	prev.DraftHistory = []string{"v1"}
	prev.IterationCount = 1
	prev.Metadata = map[string]interface{}{"a": 1}
	prev.Error = setError("Drafting error: x")

	t.Run("empty delta changes nothing", func(t *testing.T) {
		assert.Equal(t, prev, Reduce(prev, State{}))
	})

	t.Run("append history and grow iteration", func(t *testing.T) {
		next := Reduce(prev, State{Draft: "v2", DraftHistory: []string{"v2"}, IterationCount: 2})
		assert.Equal(t, "v2", next.Draft)
		assert.Equal(t, []string{"v1", "v2"}, next.DraftHistory)
		assert.Equal(t, 2, next.IterationCount)
		assert.Equal(t, []string{"v1"}, prev.DraftHistory, "prev untouched")
	})

	t.Run("iteration never decreases", func(t *testing.T) {
		assert.Equal(t, 1, Reduce(prev, State{IterationCount: 0}).IterationCount)
	})

	t.Run("error set and clear", func(t *testing.T) {
		assert.Equal(t, "Drafting error: x", Reduce(prev, State{}).ErrorMessage())
		assert.Nil(t, Reduce(prev, State{Error: clearError()}).Error)
		assert.Equal(t, "other", Reduce(prev, State{Error: setError("other")}).ErrorMessage())
	})

	t.Run("metadata merges without mutating prev", func(t *testing.T) {
		next := Reduce(prev, State{Metadata: map[string]interface{}{"b": 2, "a": 3}})
		assert.Equal(t, map[string]interface{}{"a": 3, "b": 2}, next.Metadata)
		assert.Equal(t, map[string]interface{}{"a": 1}, prev.Metadata)
	})

	t.Run("reviews and scores replace", func(t *testing.T) {
		withScores := Reduce(prev, State{
			Reviews: []agents.Review{{Agent: agents.SafetyGuardian, Score: 9}},
			Scores:  map[string]int{ScoreSafety: 9},
		})
		next := Reduce(withScores, State{Scores: map[string]int{ScoreClinical: 4}})
		assert.Equal(t, map[string]int{ScoreClinical: 4}, next.Scores)
		assert.Len(t, next.Reviews, 1)
	})

	t.Run("approval is sticky", func(t *testing.T) {
		approved := Reduce(prev, State{HumanApproved: true})
		assert.True(t, Reduce(approved, State{}).HumanApproved)
	})
}

func TestDecodeState(t *testing.T) {
	s, err := DecodeState([]byte(`{"user_intent": "x", "iteration_count": 2, "error": null}`))
	require.NoError(t, err)
	assert.Equal(t, "x", s.UserIntent)
	assert.Equal(t, 2, s.IterationCount)
	assert.False(t, s.Failed())

	_, err = DecodeState([]byte(`{"user_intent": "x", "surprise": true}`))
	assert.Error(t, err)
}

func TestPolicy_Route(t *testing.T) {
	p := DefaultPolicy()
	scored := func(safety, clinical, iteration int) State {
		s := NewState("x")
		s.Scores = map[string]int{ScoreSafety: safety, ScoreClinical: clinical}
		s.IterationCount = iteration
		return s
	}

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"error halts", func() State { s := scored(10, 10, 1); s.Error = setError("boom"); return s }(), NodeHumanHalt},
		{"approved ends", func() State { s := scored(1, 1, 1); s.HumanApproved = true; return s }(), graph.END},
		{"error beats approval", func() State { s := scored(9, 9, 1); s.HumanApproved = true; s.Error = setError("e"); return s }(), NodeHumanHalt},
		{"high scores halt", scored(9, 8, 1), NodeHumanHalt},
		{"iteration limit halts", scored(7, 8, 3), NodeHumanHalt},
		{"unsafe halts", scored(5, 10, 1), NodeHumanHalt},
		{"mediocre safety revises", scored(7, 9, 1), NodeDraft},
		{"weak clinical revises", scored(9, 6, 2), NodeDraft},
		{"good enough halts", scored(8, 7, 1), NodeHumanHalt},
		{"missing scores halt below floor", NewState("x"), NodeHumanHalt},
		{"empty error is not an error", func() State { s := scored(7, 9, 1); s.Error = clearError(); return s }(), NodeDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Route(tt.state))
			assert.Equal(t, tt.want, p.Route(tt.state), "deterministic")
		})
	}
}

func TestPolicy_Custom(t *testing.T) {
	p := Policy{HaltSafety: 10, HaltClinical: 10, SafetyFloor: 2, MaxIterations: 5, ReviseSafety: 10, ReviseClinical: 10}
	s := NewState("x")
	s.Scores = map[string]int{ScoreSafety: 9, ScoreClinical: 9}
	s.IterationCount = 3
	assert.Equal(t, NodeDraft, p.Route(s))
}
