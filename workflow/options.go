package workflow

import "time"

// FailurePolicy decides what happens to the rest of an execution when a
// step exhausts its retries.
type FailurePolicy int

const (
	// ContinueOnFailure propagates the failure to the step's dependents
	// but lets independent branches run to completion. The execution
	// ends failed if any step failed. This is the default.
	ContinueOnFailure FailurePolicy = iota

	// FailFast cancels everything still running or waiting as soon as
	// one step exhausts its retries.
	FailFast
)

// Options configures an Engine. The zero value is usable: continue-on-
// failure, checkpoints only on state transitions.
type Options struct {
	// FailurePolicy picks the reaction to an exhausted step.
	FailurePolicy FailurePolicy

	// CheckpointInterval, when positive, adds periodic checkpoints while
	// an execution is running, on top of the transition-driven ones.
	CheckpointInterval time.Duration
}

// StartOptions configures one execution.
type StartOptions struct {
	// Context seeds the execution's shared context values.
	Context map[string]any
}
