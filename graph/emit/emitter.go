package emit

// Emitter receives workflow events.
//
// Implementations must be safe for concurrent use: the engine runs many
// threads at once and emits from each of them. Emit must not block for
// long, since it is called synchronously between nodes.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []Emitter

// NewMultiEmitter drops nil entries so callers can pass optional emitters.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit forwards the event to every wrapped emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
