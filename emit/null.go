package emit

// NullEmitter implements Emitter by discarding every event.
//
// Use when event emission is unwanted without changing engine wiring:
//
//	engine := workflow.NewEngine(runner, store, emit.NewNullEmitter(), opts)
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. Safe for concurrent use; zero
// overhead per event.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
