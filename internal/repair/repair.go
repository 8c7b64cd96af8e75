// Package repair turns loosely formatted reviewer output into validated
// review records.
//
// Models asked for strict JSON still return code fences, prose around the
// object, alternative key names, checklists instead of scores and
// JavaScript-style comments. Repair recovers what it can and derives the
// rest, so a reviewer always yields a usable Record.
package repair

import (
	"encoding/json"
	"sort"
	"strings"
)

// Category selects the review schema.
type Category string

const (
	Safety   Category = "safety"
	Clinical Category = "clinical"
)

// Record is one validated review.
type Record struct {
	Category      Category
	Reasoning     string
	Score         int
	Pass          bool
	RevisionNotes string
}

// gateKey is the JSON name of the pass flag for the category.
func (c Category) gateKey() string {
	if c == Safety {
		return "is_safe"
	}
	return "passes_critique"
}

// MarshalJSON writes the record with its category-specific gate key.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.document())
}

func (r Record) document() map[string]interface{} {
	return map[string]interface{}{
		"reasoning":          r.Reasoning,
		"score":              r.Score,
		r.Category.gateKey(): r.Pass,
		"revision_notes":     r.RevisionNotes,
	}
}

// Fixed sentences used when the model leaves a field out.
const (
	SafetyReasoning   = "Assessed safety risks: medical advice, crisis content, disclaimers, tone, and clinical language."
	ClinicalReasoning = "Evaluated CBT adherence, clarity, actionability, tone, and structure."
	ClinicalNotes     = "Clarify steps, include examples, and ensure a supportive tone."

	noteMedical    = "Remove medical advice/diagnostic language."
	noteCrisis     = "Avoid crisis/self-harm/suicide content."
	noteDisclaimer = "Add the required disclaimer at the top."
	noteClinical   = "Use non-pathologizing, lay language."
	noteTone       = "Use supportive, empowering language."
	noteSafe       = "Looks good. Keep a supportive, non-judgmental tone."
)

// DefaultScore is used when a score cannot be coerced.
const DefaultScore = 7

var (
	reasoningKeys = []string{"reasoning", "analysis", "rationale", "notes", "explanation"}
	notesKeys     = []string{"revision_notes", "improvements", "suggestions", "recommendations"}
)

// Default returns the all-default record for the category.
func Default(category Category) Record {
	r := Record{Category: category, Score: DefaultScore, Pass: true}
	if category == Safety {
		r.Reasoning, r.RevisionNotes = SafetyReasoning, noteSafe
	} else {
		r.Reasoning, r.RevisionNotes = ClinicalReasoning, ClinicalNotes
	}
	return r
}

// Repair converts raw model output into a Record. It never fails.
func Repair(raw string, category Category) Record {
	r, _ := RepairWithTier(raw, category)
	return r
}

// RepairWithTier is Repair that also reports which extraction tier
// recovered the JSON object.
func RepairWithTier(raw string, category Category) (Record, Tier) {
	obj, tier := Extract(raw)

	var r Record
	if category == Safety {
		r = mapSafety(obj)
	} else {
		r = mapClinical(obj)
	}
	r.Score = clamp(r.Score, 1, 10)

	if err := validate(r); err != nil {
		fallback := Default(category)
		if r.Reasoning != "" {
			fallback.Reasoning = r.Reasoning
		}
		if r.RevisionNotes != "" {
			fallback.RevisionNotes = r.RevisionNotes
		}
		return fallback, tier
	}
	return r, tier
}

// safetyFlags are hazards inferred from checklist-style keys.
type safetyFlags struct {
	medicalAdvice     triState
	crisis            triState
	overlyClinical    triState
	missingDisclaimer triState
	disempowering     triState
}

// inferFlags classifies every key by keyword. Keys are visited in sorted
// order so that duplicates resolve deterministically.
func inferFlags(obj map[string]interface{}) safetyFlags {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var f safetyFlags
	for _, k := range keys {
		kl := strings.ToLower(strings.TrimSpace(k))
		val := coerceBool(obj[k])

		switch {
		case strings.Contains(kl, "medical") && strings.Contains(kl, "advice"):
			f.medicalAdvice = val
		case strings.Contains(kl, "crisis") || strings.Contains(kl, "self-harm") || strings.Contains(kl, "suicide"):
			f.crisis = val
		case strings.Contains(kl, "clinical") && (strings.Contains(kl, "overly") || strings.Contains(kl, "patholog")):
			f.overlyClinical = val
		case strings.Contains(kl, "disclaimer") && strings.Contains(kl, "missing"):
			f.missingDisclaimer = val
		case strings.Contains(kl, "disclaimer") && strings.Contains(kl, "present"):
			f.missingDisclaimer = val.invert()
		case strings.Contains(kl, "tone") && strings.Contains(kl, "disempower"):
			f.disempowering = val
		case strings.Contains(kl, "tone") && strings.Contains(kl, "empower"):
			f.disempowering = val.invert()
		}
	}
	return f
}

func mapSafety(obj map[string]interface{}) Record {
	flags := inferFlags(obj)

	r := Record{Category: Safety}

	switch gate := coerceBool(first(obj, "is_safe", "safe", "passes_safety")); gate {
	case unknown:
		r.Pass = !(flags.medicalAdvice.is(true) || flags.crisis.is(true) || flags.missingDisclaimer.is(true))
	default:
		r.Pass = gate.is(true)
	}

	def := 5
	if r.Pass {
		def = 9
	}
	r.Score = safeInt(first(obj, "score", "safety_score", "rating"), def)
	for _, c := range []struct {
		flag triState
		cap  int
	}{
		{flags.medicalAdvice, 5},
		{flags.crisis, 4},
		{flags.missingDisclaimer, 6},
		{flags.overlyClinical, 7},
		{flags.disempowering, 7},
	} {
		if c.flag.is(true) && r.Score > c.cap {
			r.Score = c.cap
		}
	}

	r.Reasoning = text(first(obj, reasoningKeys...))
	if r.Reasoning == "" {
		r.Reasoning = SafetyReasoning
	}

	r.RevisionNotes = text(first(obj, notesKeys...))
	if r.RevisionNotes == "" {
		r.RevisionNotes = safetyNotes(flags)
	}
	return r
}

// safetyNotes writes one instruction per triggered flag, most severe
// first.
func safetyNotes(f safetyFlags) string {
	var notes []string
	if f.medicalAdvice.is(true) {
		notes = append(notes, noteMedical)
	}
	if f.crisis.is(true) {
		notes = append(notes, noteCrisis)
	}
	if f.missingDisclaimer.is(true) {
		notes = append(notes, noteDisclaimer)
	}
	if f.disempowering.is(true) {
		notes = append(notes, noteTone)
	}
	if f.overlyClinical.is(true) {
		notes = append(notes, noteClinical)
	}
	if len(notes) == 0 {
		return noteSafe
	}
	return strings.Join(notes, " ")
}

func mapClinical(obj map[string]interface{}) Record {
	r := Record{Category: Clinical}
	score := first(obj, "score", "clinical_score", "quality_score", "rating")

	switch gate := coerceBool(first(obj, "passes_critique", "approved", "pass", "passes")); gate {
	case unknown:
		r.Pass = safeInt(score, DefaultScore) >= 7
	default:
		r.Pass = gate.is(true)
	}

	def := 6
	if r.Pass {
		def = 8
	}
	r.Score = safeInt(score, def)

	r.Reasoning = text(first(obj, reasoningKeys...))
	if r.Reasoning == "" {
		r.Reasoning = ClinicalReasoning
	}
	r.RevisionNotes = text(first(obj, notesKeys...))
	if r.RevisionNotes == "" {
		r.RevisionNotes = ClinicalNotes
	}
	return r
}
