package graph

import "context"

// Node is one unit of work in the graph.
//
// A node reads the current state and returns a NodeResult describing the
// state change it wants merged (Delta), an optional explicit route, and an
// error. Nodes should not mutate the state they receive; the engine merges
// Delta into the state with the configured Reducer.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is what a node returns after executing.
type NodeResult[S any] struct {
	// Delta is merged into the current state by the Reducer.
	Delta S

	// Route overrides edge evaluation when set. Leave it zero to follow
	// the edges connected from this node.
	Route Next

	// Err aborts the run. Recoverable problems belong in the state instead.
	Err error
}

// Next describes where execution goes after a node.
type Next struct {
	// To names the next node.
	To string

	// Terminal ends the run after this node.
	Terminal bool
}

// Stop ends the run after the current node.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto routes to nodeID regardless of edges.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a plain function to the Node interface.
//
// Example:
//
//	review := graph.NodeFunc[State](func(ctx context.Context, s State) graph.NodeResult[State] {
//	    return graph.NodeResult[State]{Delta: State{Scores: score(s.Draft)}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run calls f.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError wraps a failure returned by a node.
type NodeError struct {
	// NodeID is the node that failed.
	NodeID string

	// Step is the engine step at which it failed.
	Step int

	// Cause is the error the node returned.
	Cause error
}

func (e *NodeError) Error() string {
	return "node " + e.NodeID + ": " + e.Cause.Error()
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
