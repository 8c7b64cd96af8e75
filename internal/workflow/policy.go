package workflow

import "github.com/dshills/protocol-foundry/graph"

// Policy holds the score thresholds the router applies after synthesis.
type Policy struct {
	// HaltSafety and HaltClinical are the scores at which a draft is good
	// enough to show a human.
	HaltSafety   int `mapstructure:"halt_safety"`
	HaltClinical int `mapstructure:"halt_clinical"`

	// SafetyFloor halts the loop for human attention when safety falls
	// below it.
	SafetyFloor int `mapstructure:"safety_floor"`

	// MaxIterations halts the loop once this many drafts exist.
	MaxIterations int `mapstructure:"max_iterations"`

	// ReviseSafety and ReviseClinical send the draft back for revision when
	// either score is below them.
	ReviseSafety   int `mapstructure:"revise_safety"`
	ReviseClinical int `mapstructure:"revise_clinical"`
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		HaltSafety:     9,
		HaltClinical:   8,
		SafetyFloor:    6,
		MaxIterations:  3,
		ReviseSafety:   8,
		ReviseClinical: 7,
	}
}

// Route picks the node that follows synthesize. It depends only on s.
func (p Policy) Route(s State) string {
	if s.Failed() {
		return NodeHumanHalt
	}
	if s.HumanApproved {
		return graph.END
	}

	safety := s.Scores[ScoreSafety]
	clinical := s.Scores[ScoreClinical]

	switch {
	case safety >= p.HaltSafety && clinical >= p.HaltClinical:
		return NodeHumanHalt
	case s.IterationCount >= p.MaxIterations || safety < p.SafetyFloor:
		return NodeHumanHalt
	case safety < p.ReviseSafety || clinical < p.ReviseClinical:
		return NodeDraft
	default:
		return NodeHumanHalt
	}
}
