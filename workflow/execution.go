package workflow

import "time"

// State is the lifecycle position of a workflow execution.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle position of one step within an execution.
type StepStatus string

const (
	// StepPending means dependencies are not yet satisfied.
	StepPending StepStatus = "pending"

	// StepReady means dependencies are satisfied and the step is waiting
	// to be issued (including waiting out a retry backoff or a pause).
	StepReady StepStatus = "ready"

	// StepRunning means the step has been handed to the runner.
	StepRunning StepStatus = "running"

	StepCompleted StepStatus = "completed"

	// StepFailed means the step's attempts were exhausted, or a step it
	// depends on failed.
	StepFailed StepStatus = "failed"

	// StepSkipped means the step never ran because the execution was
	// cancelled or stopped by the fail-fast policy first.
	StepSkipped StepStatus = "skipped"
)

// StepState is the per-step record inside an execution snapshot.
type StepState struct {
	// Status is the step's lifecycle position.
	Status StepStatus `json:"status"`

	// Attempts counts issuances so far.
	Attempts int `json:"attempts"`

	// RunnerID is the collaborator execution id of the current or last
	// issuance, empty before the first.
	RunnerID string `json:"runner_id,omitempty"`

	// LastError records the most recent failure message.
	LastError string `json:"last_error,omitempty"`
}

// Execution is a snapshot of one workflow run. It is the unit the engine
// checkpoints: everything needed to resume lives here, keyed back to the
// definition by DefinitionID.
type Execution struct {
	// ID uniquely identifies the execution.
	ID string `json:"id"`

	// DefinitionID names the definition being executed.
	DefinitionID string `json:"definition_id"`

	// WorkDir is the working tree the execution operates on.
	WorkDir string `json:"work_dir,omitempty"`

	// State is the workflow lifecycle position.
	State State `json:"state"`

	// Steps maps step id to its per-step record.
	Steps map[string]*StepState `json:"steps"`

	// Context carries caller-supplied values shared across the run.
	Context map[string]any `json:"context,omitempty"`

	// CheckpointSeq is the sequence number of the last written
	// checkpoint, carried in the snapshot so resumption continues the
	// sequence.
	CheckpointSeq int `json:"checkpoint_seq"`

	// CreatedAt is when the execution started.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the snapshot last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// clone deep-copies the snapshot for safe hand-out to callers.
func (x *Execution) clone() Execution {
	out := *x
	out.Steps = make(map[string]*StepState, len(x.Steps))
	for id, st := range x.Steps {
		copied := *st
		out.Steps[id] = &copied
	}
	if x.Context != nil {
		out.Context = make(map[string]any, len(x.Context))
		for k, v := range x.Context {
			out.Context[k] = v
		}
	}
	return out
}
