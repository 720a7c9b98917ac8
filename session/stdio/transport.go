// Package stdio implements the subprocess-backed session provider.
//
// The agent runs as a child process and speaks newline-delimited JSON-RPC
// 2.0 over its stdin/stdout. The provider spawns the process lazily on first
// session use, serves any number of sequential sessions against it, and
// kills it only on provider Close; closing an individual session leaves the
// process alive.
package stdio

import (
	"github.com/dshills/conductor-go/process"
)

// Transport carries newline-delimited frames between the provider and a
// live agent. The process-backed implementation is created by Spawner
// implementations; tests substitute in-memory fakes.
type Transport interface {
	// Send writes one frame. The transport appends the line delimiter.
	Send(data []byte) error

	// OnReceive registers the sink for inbound frames. Must be called
	// once, before any traffic is expected.
	OnReceive(fn func(line []byte))

	// Close tears the transport down. For a process transport this
	// terminates the agent process with signal escalation.
	Close() error
}

// procTransport adapts a managed process's stdio into a Transport.
type procTransport struct {
	manager *process.Manager
	proc    *process.ManagedProcess
}

// NewProcessTransport wraps an already-acquired managed process. The
// process's stdout lines become inbound frames; Send writes stdin lines;
// Close releases the process through its manager.
func NewProcessTransport(manager *process.Manager, proc *process.ManagedProcess) Transport {
	return &procTransport{manager: manager, proc: proc}
}

func (t *procTransport) Send(data []byte) error {
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')
	return t.manager.SendInput(t.proc.ID(), frame)
}

func (t *procTransport) OnReceive(fn func(line []byte)) {
	_ = t.manager.OnOutput(t.proc.ID(), fn)
}

func (t *procTransport) Close() error {
	return t.manager.Release(t.proc.ID())
}
