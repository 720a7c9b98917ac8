// Package process manages the lifecycle of spawned agent subprocesses.
//
// A Manager owns every process it spawns: it is the only component allowed to
// signal, feed input to, or observe a managed process. Callers interact
// through opaque process ids, register output/error handlers, and read
// aggregate metrics for capacity decisions. The manager itself applies no
// concurrency limit.
package process

import (
	"os"
	"sync"
	"time"
)

// Status describes where a managed process is in its lifecycle.
type Status string

const (
	// StatusStarting is set between spawn request and successful launch.
	StatusStarting Status = "starting"

	// StatusRunning means the process launched and has not yet exited.
	StatusRunning Status = "running"

	// StatusExited means the process terminated on its own, successfully
	// or with a nonzero exit code.
	StatusExited Status = "exited"

	// StatusKilled means the manager terminated the process, either
	// directly or after signal escalation.
	StatusKilled Status = "killed"

	// StatusErrored means the process could not be launched or its exit
	// could not be observed.
	StatusErrored Status = "errored"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusKilled || s == StatusErrored
}

// Config describes one process to spawn.
type Config struct {
	// Command is the executable path. Required.
	Command string

	// Args are the command arguments, excluding the command itself.
	Args []string

	// Dir is the working directory. Empty means the caller's directory.
	Dir string

	// Env is the environment for the process. Nil inherits the parent
	// environment; non-nil replaces it entirely.
	Env []string

	// Timeout bounds the process's total wall-clock lifetime. Zero means
	// no overall timeout. On expiry the process is terminated with signal
	// escalation.
	Timeout time.Duration

	// IdleTimeout terminates the process when it produces no output for
	// the given window. Zero disables idle tracking.
	IdleTimeout time.Duration

	// GracePeriod is how long a termination signal may go unanswered
	// before escalating to SIGKILL. Zero uses DefaultGracePeriod.
	GracePeriod time.Duration
}

// DefaultRetention is how long the manager keeps an exited process
// queryable before forgetting it.
const DefaultRetention = time.Minute

// DefaultGracePeriod is the wait between a graceful termination signal and
// the forceful kill that follows it.
const DefaultGracePeriod = time.Second

// OutputHandler receives one chunk of process stdout. Handlers run on the
// process's reader goroutine in registration order; they should return
// quickly.
type OutputHandler func(data []byte)

// ErrorHandler receives process error events: stderr lines (as *StderrLine),
// spawn failures, and abnormal exits.
type ErrorHandler func(err error)

// ManagedProcess is the manager's record of one spawned OS process. All
// fields are owned by the Manager; callers hold it only to read identity and
// status.
type ManagedProcess struct {
	mu sync.Mutex

	id        string
	config    Config
	osProcess *os.Process
	stdin     closerWriter

	status    Status
	startedAt time.Time
	exitCode  int
	exitErr   error

	outputHandlers []OutputHandler
	errorHandlers  []ErrorHandler

	// killed records that termination was requested, so the wait goroutine
	// can distinguish StatusKilled from StatusExited.
	killed bool

	overallTimer *time.Timer
	idleTimer    *time.Timer

	// done closes when the wait goroutine observes process exit.
	done chan struct{}
}

type closerWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// ID returns the opaque process id assigned at spawn time.
func (p *ManagedProcess) ID() string { return p.id }

// PID returns the OS process id, or 0 before launch.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.osProcess == nil {
		return 0
	}
	return p.osProcess.Pid
}

// Status returns the current lifecycle status.
func (p *ManagedProcess) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// StartedAt returns the launch time.
func (p *ManagedProcess) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// ExitCode returns the recorded exit code. Only meaningful once Status is
// terminal.
func (p *ManagedProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done returns a channel closed when the process has exited and its state
// has been recorded.
func (p *ManagedProcess) Done() <-chan struct{} { return p.done }

// dispatchOutput invokes every registered output handler in order. A handler
// panic is contained so one misbehaving observer cannot take down the reader
// goroutine.
func (p *ManagedProcess) dispatchOutput(data []byte) {
	p.mu.Lock()
	handlers := make([]OutputHandler, len(p.outputHandlers))
	copy(handlers, p.outputHandlers)
	p.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(data)
		}()
	}
}

// dispatchError invokes every registered error handler in order, with the
// same per-handler isolation as dispatchOutput.
func (p *ManagedProcess) dispatchError(err error) {
	p.mu.Lock()
	handlers := make([]ErrorHandler, len(p.errorHandlers))
	copy(handlers, p.errorHandlers)
	p.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(err)
		}()
	}
}

// resetIdle re-arms the idle timer after an output chunk.
func (p *ManagedProcess) resetIdle(idle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idleTimer != nil && !p.status.Terminal() {
		p.idleTimer.Reset(idle)
	}
}

// stopTimers cancels the overall and idle timers. Called on exit so timer
// state cannot leak past the process's lifetime.
func (p *ManagedProcess) stopTimers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.overallTimer != nil {
		p.overallTimer.Stop()
		p.overallTimer = nil
	}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}
