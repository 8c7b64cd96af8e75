// Package agents holds the three model-backed roles of the workflow: the
// drafter, the two reviewers and the supervisor.
package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dshills/protocol-foundry/graph/model"
	"github.com/dshills/protocol-foundry/internal/repair"
)

// Agent names recorded in reviews.
const (
	SafetyGuardian = "SafetyGuardian"
	ClinicalCritic = "ClinicalCritic"
)

// Default sampling per role.
var (
	DraftParams      = model.Params{Temperature: 0.7, MaxTokens: 2048}
	ReviewParams     = model.Params{Temperature: 0.2, MaxTokens: 900}
	SupervisorParams = model.Params{Temperature: 0.3, MaxTokens: 1024}
)

// NewOfflineModel returns the canned model used when no provider is
// configured.
func NewOfflineModel() model.ChatModel {
	return model.StaticModel{Text: OfflineExercise}
}

func discardLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Drafter writes and revises exercises.
type Drafter struct {
	model  model.ChatModel
	params model.Params
}

// NewDrafter creates a drafter.
func NewDrafter(m model.ChatModel, params model.Params) *Drafter {
	return &Drafter{model: m, params: params}
}

// Draft produces an exercise for intent. Empty instructions mean a first
// draft.
func (d *Drafter) Draft(ctx context.Context, intent, instructions string) (string, error) {
	if strings.TrimSpace(instructions) == "" {
		instructions = InitialInstructions
	}

	out, err := d.model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: drafterSystemPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf("User Intent: %s\n\nRevision Instructions: %s", intent, instructions)},
	}, d.params)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", errors.New("model returned an empty draft")
	}
	return out.Text, nil
}

// Review is one reviewer's verdict as stored in workflow state.
type Review struct {
	Agent     string `json:"agent"`
	Category  string `json:"category"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
	Notes     string `json:"notes"`
	Passed    bool   `json:"passed"`
}

// Reviewer scores drafts for one category. Review never fails: model errors
// yield a conservative default verdict.
type Reviewer struct {
	agent    string
	category repair.Category
	prompt   string
	model    model.ChatModel
	params   model.Params
	metrics  *repair.Metrics
	logger   *slog.Logger
}

// NewSafetyGuardian creates the safety reviewer. metrics and logger may be
// nil.
func NewSafetyGuardian(m model.ChatModel, params model.Params, metrics *repair.Metrics, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		agent:    SafetyGuardian,
		category: repair.Safety,
		prompt:   safetySystemPrompt,
		model:    m,
		params:   params,
		metrics:  metrics,
		logger:   discardLogger(logger).With("agent", SafetyGuardian),
	}
}

// NewClinicalCritic creates the clinical reviewer. metrics and logger may
// be nil.
func NewClinicalCritic(m model.ChatModel, params model.Params, metrics *repair.Metrics, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		agent:    ClinicalCritic,
		category: repair.Clinical,
		prompt:   clinicalSystemPrompt,
		model:    m,
		params:   params,
		metrics:  metrics,
		logger:   discardLogger(logger).With("agent", ClinicalCritic),
	}
}

// Agent returns the reviewer's name.
func (r *Reviewer) Agent() string {
	return r.agent
}

// Review scores draft.
func (r *Reviewer) Review(ctx context.Context, draft string) Review {
	verb := "review"
	if r.category == repair.Clinical {
		verb = "critique"
	}

	out, err := r.model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: r.prompt},
		{Role: model.RoleUser, Content: fmt.Sprintf("Draft to %s:\n\n%s", verb, draft)},
	}, r.params)
	if err != nil {
		r.logger.Warn("review call failed, using default verdict", "error", err)
		return r.toReview(failureRecord(r.category))
	}

	record, tier := repair.RepairWithTier(out.Text, r.category)
	r.metrics.Observe(r.category, tier)
	if tier != repair.TierDirect {
		r.logger.Debug("repaired reviewer output", "tier", tier)
	}
	return r.toReview(record)
}

func (r *Reviewer) toReview(rec repair.Record) Review {
	return Review{
		Agent:     r.agent,
		Category:  string(r.category),
		Score:     rec.Score,
		Reasoning: rec.Reasoning,
		Notes:     rec.RevisionNotes,
		Passed:    rec.Pass,
	}
}

// failureRecord is the verdict used when the reviewer could not be reached.
func failureRecord(c repair.Category) repair.Record {
	if c == repair.Safety {
		return repair.Record{
			Category:      c,
			Reasoning:     "Review failed; defaulting conservative score.",
			Score:         repair.DefaultScore,
			Pass:          true,
			RevisionNotes: "Ensure disclaimer present; avoid medical advice and crisis content.",
		}
	}
	return repair.Record{
		Category:      c,
		Reasoning:     "Critique failed; defaulting moderate score.",
		Score:         repair.DefaultScore,
		Pass:          true,
		RevisionNotes: "Improve clarity of steps and reflection prompts.",
	}
}

// Supervisor turns reviews into revision instructions.
type Supervisor struct {
	model  model.ChatModel
	params model.Params
}

// NewSupervisor creates a supervisor.
func NewSupervisor(m model.ChatModel, params model.Params) *Supervisor {
	return &Supervisor{model: m, params: params}
}

// SynthesisInput is what the supervisor sees.
type SynthesisInput struct {
	Iteration int
	Intent    string
	Reviews   []Review
}

// Synthesize asks the model for bullet-point instructions for the drafter.
func (s *Supervisor) Synthesize(ctx context.Context, in SynthesisInput) (string, error) {
	out, err := s.model.Chat(ctx, []model.Message{
		{Role: model.RoleUser, Content: synthesisPrompt(in)},
	}, s.params)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func synthesisPrompt(in SynthesisInput) string {
	intent := in.Intent
	if intent == "" {
		intent = "Not specified"
	}

	var b strings.Builder
	b.WriteString("As the Supervisor, synthesize this feedback for the Drafter.\n")
	fmt.Fprintf(&b, "DRAFT ITERATION: %d\n", in.Iteration)
	fmt.Fprintf(&b, "USER INTENT: %s\n", intent)
	writeReviewLine(&b, "SAFETY REVIEW", findReview(in.Reviews, SafetyGuardian), "No safety notes")
	writeReviewLine(&b, "CLINICAL REVIEW", findReview(in.Reviews, ClinicalCritic), "No clinical notes")
	b.WriteString("Create CLEAR, ACTIONABLE instructions for the next draft. Prioritize the most important changes.\n")
	b.WriteString("Format your response as bullet points starting with •.\n")
	b.WriteString("Instructions for Drafter:")
	return b.String()
}

func findReview(reviews []Review, agent string) *Review {
	for i := range reviews {
		if reviews[i].Agent == agent {
			return &reviews[i]
		}
	}
	return nil
}

func writeReviewLine(b *strings.Builder, label string, r *Review, missing string) {
	if r == nil {
		fmt.Fprintf(b, "%s (Score: N/A/10): %s\n", label, missing)
		return
	}
	fmt.Fprintf(b, "%s (Score: %d/10): %s\n", label, r.Score, r.Notes)
}
