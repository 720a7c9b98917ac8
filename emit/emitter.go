// Package emit provides event emission and observability for orchestrated
// workflow execution.
package emit

// Emitter receives observability events from the workflow engine and its
// collaborators.
//
// Implementations should be:
//   - Non-blocking: never slow down workflow execution
//   - Thread-safe: Emit may be called concurrently from multiple steps
//   - Resilient: failures are handled internally, never surfaced to the engine
//
// Provided implementations: LogEmitter (line output), NullEmitter (discard),
// BufferedEmitter (in-memory history, useful in tests), OTelEmitter (spans).
type Emitter interface {
	// Emit delivers one event to the backend. Emit must not panic; errors
	// are logged or dropped internally.
	Emit(event Event)
}

// Multi fans an event out to several emitters in order.
//
// Useful for emitting to a log and a tracing backend at once:
//
//	emitter := emit.Multi(emit.NewLogEmitter(os.Stdout, false), otelEmitter)
func Multi(emitters ...Emitter) Emitter {
	return multiEmitter(emitters)
}

type multiEmitter []Emitter

func (m multiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
