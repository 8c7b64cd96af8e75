package graph

// Reducer merges a node's delta into the previous state and returns the
// new state.
//
// Reducers must be deterministic and must not mutate prev or delta in
// place: the engine may still hold references to both.
//
// Example:
//
//	func reduce(prev, delta State) State {
//	    if delta.Draft != "" {
//	        prev.Draft = delta.Draft
//	    }
//	    prev.History = append(append([]string(nil), prev.History...), delta.History...)
//	    return prev
//	}
type Reducer[S any] func(prev, delta S) S
