// Package emit provides event emission and observability for graph execution.
package emit

import "time"

// Event is one observable moment in a workflow run.
//
// The engine emits an event after every node completes, when a run pauses
// before an interrupt node, when a paused run resumes, and when a run ends.
// Emitters turn these into log lines, spans, or an in-memory history.
//
// Example:
//
//	emit.Event{
//	    ThreadID: "thread_1a2b3c4d",
//	    Step:     3,
//	    NodeID:   "synthesize",
//	    Msg:      emit.MsgNodeEnd,
//	    Meta:     map[string]interface{}{"latency_ms": int64(812), "next": "human_halt"},
//	}
type Event struct {
	// ThreadID identifies the workflow run.
	ThreadID string

	// Step is the engine step counter at the time of the event.
	Step int

	// NodeID is the node the event refers to. Empty for run-level events.
	NodeID string

	// Msg names the event. See the Msg* constants.
	Msg string

	// Meta carries event-specific attributes such as latency, the next
	// node, or an error message under the "error" key.
	Meta map[string]interface{}

	// Time is when the event was produced. Emitters fill it in if zero.
	Time time.Time
}

// Standard event names emitted by the engine.
const (
	MsgNodeEnd     = "node_end"
	MsgNodeError   = "node_error"
	MsgInterrupted = "run_interrupted"
	MsgResumed     = "run_resumed"
	MsgCompleted   = "run_completed"
	MsgAborted     = "run_aborted"
)
