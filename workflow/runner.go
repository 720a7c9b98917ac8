package workflow

import "context"

// RunStatus is a runner's view of one issued step execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Runner executes issued steps on behalf of the engine, for example by
// prompting an agent session per step.
//
// StartExecution is expected to kick work off and return quickly with a
// runner-scoped execution id; the runner later reports the outcome through
// Engine.ReportStepResult. A runner that works synchronously may call
// ReportStepResult before StartExecution returns.
type Runner interface {
	// StartExecution begins running step in workDir on behalf of the
	// given workflow execution, and returns the runner's own execution
	// id for the issued work.
	StartExecution(ctx context.Context, executionID string, step Step, workDir string) (string, error)

	// CancelExecution stops a running step execution. Cancelling an
	// already-finished execution is a no-op.
	CancelExecution(ctx context.Context, id string) error

	// GetExecutionStatus reports where an issued execution stands. Used
	// during resume to reconcile steps that were running when the last
	// checkpoint was written.
	GetExecutionStatus(ctx context.Context, id string) (RunStatus, error)
}
