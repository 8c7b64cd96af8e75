package graph

import "errors"

// END is the pseudo-node that terminates a run when an edge routes to it.
const END = "__end__"

// ErrNotPaused is returned when resuming or aborting a run that is not
// waiting at an interrupt.
var ErrNotPaused = errors.New("run is not paused")

// ErrRunExists is returned when Run is called for a thread that already
// has a checkpoint.
var ErrRunExists = errors.New("run already exists")

// Engine error codes.
const (
	CodeMaxSteps     = "MAX_STEPS_EXCEEDED"
	CodeNoRoute      = "NO_ROUTE"
	CodeNodeNotFound = "NODE_NOT_FOUND"
	CodeNoStartNode  = "NO_START_NODE"
	CodeStoreFailed  = "STORE_FAILED"
	CodeInvalidGraph = "INVALID_GRAPH"
)

// EngineError is returned for failures of the engine itself rather than of
// a node.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// IsEngineError reports whether err is an EngineError with the given code.
func IsEngineError(err error, code string) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr) && engineErr.Code == code
}
