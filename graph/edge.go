package graph

// Edge connects two nodes, optionally guarded by a predicate.
//
// Edges from the same node are evaluated in the order they were connected
// and the first match wins. A nil predicate always matches, so an
// unconditional edge should be connected last.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}

// Predicate decides whether an edge is taken for the given state.
type Predicate[S any] func(state S) bool

// Router picks the next node from state. It must be a pure function.
type Router[S any] func(state S) string
