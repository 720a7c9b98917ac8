package emit

import "time"

// Standard event messages emitted by the workflow engine.
//
// Workflow-level events carry an empty StepID; step-level events name the
// step they describe. Checkpoint events carry the checkpoint timestamp in
// Meta under "checkpoint_at".
const (
	WorkflowStarted   = "workflow_started"
	WorkflowPaused    = "workflow_paused"
	WorkflowResumed   = "workflow_resumed"
	WorkflowCompleted = "workflow_completed"
	WorkflowFailed    = "workflow_failed"
	WorkflowCancelled = "workflow_cancelled"

	StepStarted   = "step_started"
	StepCompleted = "step_completed"
	StepFailed    = "step_failed"
	StepSkipped   = "step_skipped"

	CheckpointSaved = "checkpoint_saved"
)

// Event is one observability event from an orchestrated execution.
//
// Events flow to an Emitter, which may log them, convert them to spans,
// buffer them for inspection, or drop them. The engine never depends on an
// emitter succeeding; a misbehaving backend cannot affect execution.
type Event struct {
	// ExecutionID identifies the workflow execution that emitted the event.
	ExecutionID string

	// StepID names the step the event describes. Empty for workflow-level
	// events (started, paused, completed, ...).
	StepID string

	// Msg is the event name, one of the constants above for engine events.
	// Free-form for events emitted by collaborators.
	Msg string

	// At is the time the event was recorded.
	At time.Time

	// Meta carries additional structured data. Common keys:
	//   - "error": failure detail for *_failed events
	//   - "attempt": retry attempt number for step events
	//   - "duration_ms": step execution duration
	//   - "state": workflow state after a transition
	Meta map[string]interface{}
}
