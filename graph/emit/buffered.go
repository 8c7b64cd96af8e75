package emit

import (
	"sync"
	"time"
)

// BufferedEmitter keeps events in memory, grouped by thread.
//
// The task registry uses it as the per-thread event log that backs the
// events endpoint: engine node events and registry decisions (approve,
// reject) land in the same ordered history.
//
// A positive limit keeps only the newest limit events per thread.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
	limit  int
}

// HistoryFilter narrows a history query. Zero fields do not filter.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates a buffer. limit <= 0 keeps every event.
func NewBufferedEmitter(limit int) *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
		limit:  limit,
	}
}

// Emit appends the event to its thread's history.
func (b *BufferedEmitter) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	history := append(b.events[event.ThreadID], event)
	if b.limit > 0 && len(history) > b.limit {
		history = append([]Event(nil), history[len(history)-b.limit:]...)
	}
	b.events[event.ThreadID] = history
}

// History returns a copy of the thread's events in emission order.
func (b *BufferedEmitter) History(threadID string) []Event {
	return b.HistoryWithFilter(threadID, HistoryFilter{})
}

// HistoryWithFilter returns the thread's events matching every set field.
func (b *BufferedEmitter) HistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[threadID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear drops the thread's history, or everything when threadID is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
