package process

import (
	"errors"
	"fmt"
)

// ErrUnknownProcess is returned when an operation names a process id the
// manager does not track.
var ErrUnknownProcess = errors.New("unknown process id")

// ErrInputClosed is returned by SendInput when the process's input stream
// has been closed, usually because the process exited.
var ErrInputClosed = errors.New("process input stream closed")

// ErrManagerClosed is returned by Acquire after Shutdown has been called.
var ErrManagerClosed = errors.New("process manager is shut down")

// SpawnError wraps a failure to launch an executable. The original error is
// available via Unwrap.
type SpawnError struct {
	// Command is the executable that failed to launch.
	Command string

	// Err is the underlying launch failure.
	Err error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error { return e.Err }

// StderrLine is delivered to error handlers for every line the process
// writes to stderr. Stderr output is treated as an error event rather than
// regular output so callers can route diagnostics separately.
type StderrLine struct {
	// Line is the stderr line, without the trailing newline.
	Line string
}

// Error implements the error interface.
func (e *StderrLine) Error() string {
	return fmt.Sprintf("stderr: %s", e.Line)
}
