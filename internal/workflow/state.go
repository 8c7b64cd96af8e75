// Package workflow assembles the CBT exercise graph: draft, review,
// synthesize and the human approval halt, routed by a threshold policy.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dshills/protocol-foundry/internal/agents"
)

// Review categories used as score keys.
const (
	ScoreSafety   = "safety"
	ScoreClinical = "clinical"
)

// State is the record that flows through the graph and is checkpointed
// after every node.
type State struct {
	UserIntent         string                 `json:"user_intent"`
	Draft              string                 `json:"draft"`
	DraftHistory       []string               `json:"draft_history"`
	Reviews            []agents.Review        `json:"reviews"`
	Scores             map[string]int         `json:"scores"`
	SupervisorFeedback string                 `json:"supervisor_feedback"`
	IterationCount     int                    `json:"iteration_count"`
	HumanApproved      bool                   `json:"human_approved"`
	Error              *string                `json:"error"`
	Metadata           map[string]interface{} `json:"metadata"`
}

// NewState returns the initial state for intent.
func NewState(intent string) State {
	return State{
		UserIntent:   intent,
		DraftHistory: []string{},
		Reviews:      []agents.Review{},
		Scores:       map[string]int{},
		Metadata:     map[string]interface{}{},
	}
}

// Failed reports whether the last node recorded an error.
func (s State) Failed() bool {
	return s.Error != nil && *s.Error != ""
}

// ErrorMessage returns the recorded error or "".
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// setError is a delta value that records msg.
func setError(msg string) *string {
	return &msg
}

// clearError is a delta value that removes a recorded error.
func clearError() *string {
	empty := ""
	return &empty
}

// Reduce merges a node delta into prev.
//
// Strings overwrite when non-empty, DraftHistory appends, Reviews and
// Scores replace when non-nil, IterationCount only grows, HumanApproved is
// sticky and Metadata keys are added or overwritten. A nil Error leaves
// the previous error in place; a pointer to "" clears it.
func Reduce(prev, delta State) State {
	next := prev

	if delta.UserIntent != "" {
		next.UserIntent = delta.UserIntent
	}
	if delta.Draft != "" {
		next.Draft = delta.Draft
	}
	if len(delta.DraftHistory) > 0 {
		history := make([]string, 0, len(prev.DraftHistory)+len(delta.DraftHistory))
		history = append(history, prev.DraftHistory...)
		next.DraftHistory = append(history, delta.DraftHistory...)
	}
	if delta.Reviews != nil {
		next.Reviews = append([]agents.Review(nil), delta.Reviews...)
	}
	if delta.Scores != nil {
		scores := make(map[string]int, len(delta.Scores))
		for k, v := range delta.Scores {
			scores[k] = v
		}
		next.Scores = scores
	}
	if delta.SupervisorFeedback != "" {
		next.SupervisorFeedback = delta.SupervisorFeedback
	}
	if delta.IterationCount > next.IterationCount {
		next.IterationCount = delta.IterationCount
	}
	if delta.HumanApproved {
		next.HumanApproved = true
	}
	if delta.Error != nil {
		if *delta.Error == "" {
			next.Error = nil
		} else {
			msg := *delta.Error
			next.Error = &msg
		}
	}
	if len(delta.Metadata) > 0 {
		meta := make(map[string]interface{}, len(prev.Metadata)+len(delta.Metadata))
		for k, v := range prev.Metadata {
			meta[k] = v
		}
		for k, v := range delta.Metadata {
			meta[k] = v
		}
		next.Metadata = meta
	}

	return next
}

// DecodeState parses a JSON state and rejects keys State does not declare.
func DecodeState(data []byte) (State, error) {
	var s State
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return State{}, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	return s, nil
}
