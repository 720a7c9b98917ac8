package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogEmitter implements Emitter by writing structured line output to a writer.
//
// Two output modes are supported:
//   - Text mode (default): human-readable key=value pairs
//   - JSON mode: one JSON object per line, machine-readable
//
// Example text output:
//
//	[step_started] execution=exec-001 step=build
//
// Example JSON output:
//
//	{"execution_id":"exec-001","step_id":"build","msg":"step_started","at":"..."}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer. A nil
// writer defaults to os.Stdout. If jsonMode is true, events are emitted as
// single-line JSON objects.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes the event to the configured writer. Write errors are dropped;
// an emitter failure must never surface into workflow execution.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

type jsonEvent struct {
	ExecutionID string                 `json:"execution_id"`
	StepID      string                 `json:"step_id,omitempty"`
	Msg         string                 `json:"msg"`
	At          time.Time              `json:"at"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(jsonEvent{
		ExecutionID: event.ExecutionID,
		StepID:      event.StepID,
		Msg:         event.Msg,
		At:          event.At,
		Meta:        event.Meta,
	})
	if err != nil {
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	if event.StepID != "" {
		fmt.Fprintf(l.writer, "[%s] execution=%s step=%s", event.Msg, event.ExecutionID, event.StepID)
	} else {
		fmt.Fprintf(l.writer, "[%s] execution=%s", event.Msg, event.ExecutionID)
	}
	for k, v := range event.Meta {
		fmt.Fprintf(l.writer, " %s=%v", k, v)
	}
	fmt.Fprintln(l.writer)
}
