package workflow

import (
	"fmt"
	"strings"
)

// WorkflowCycleError reports a dependency cycle in a definition's steps.
type WorkflowCycleError struct {
	// DefinitionID is the definition containing the cycle.
	DefinitionID string

	// Members is the cycle in traversal order.
	Members []string
}

func (e *WorkflowCycleError) Error() string {
	return fmt.Sprintf("workflow %s: dependency cycle: %s",
		e.DefinitionID, strings.Join(e.Members, " -> "))
}

// WorkflowNotFoundError reports an operation on an unknown execution or
// definition id.
type WorkflowNotFoundError struct {
	ID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s: not found", e.ID)
}

// WorkflowStepNotFoundError reports a reference to a step id the
// definition does not contain.
type WorkflowStepNotFoundError struct {
	WorkflowID string
	StepID     string
}

func (e *WorkflowStepNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s: step %s not found", e.WorkflowID, e.StepID)
}

// WorkflowStateError reports an operation invalid in the execution's
// current state, such as resuming a workflow that is not paused.
type WorkflowStateError struct {
	ID    string
	State State
	Op    string
}

func (e *WorkflowStateError) Error() string {
	return fmt.Sprintf("workflow %s: cannot %s in state %s", e.ID, e.Op, e.State)
}
