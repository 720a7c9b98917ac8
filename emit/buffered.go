package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, keyed by
// execution id.
//
// Intended for tests, debugging, and post-run analysis. All events are held
// in memory; long-lived deployments should prefer LogEmitter or OTelEmitter,
// or clear finished executions with Clear.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // executionID -> events in arrival order
}

// HistoryFilter selects a subset of an execution's event history. All fields
// are optional and combine with AND logic.
type HistoryFilter struct {
	// StepID keeps only events for the named step. Empty matches all.
	StepID string

	// Msg keeps only events with the given message. Empty matches all.
	Msg string
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to the history of its execution.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns a copy of all events recorded for the execution, in
// arrival order.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := b.events[executionID]
	out := make([]Event, len(history))
	copy(out, history)
	return out
}

// HistoryWithFilter returns the subset of the execution's events matching
// the filter, in arrival order.
func (b *BufferedEmitter) HistoryWithFilter(executionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events[executionID] {
		if filter.StepID != "" && event.StepID != filter.StepID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Clear drops the recorded history for one execution.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, executionID)
}

// ClearAll drops every recorded event.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
