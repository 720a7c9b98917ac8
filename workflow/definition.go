// Package workflow orchestrates multi-step executions over a dependency
// graph: topologically ordered issuance of parallel step groups, retry with
// backoff, pause/resume through persisted checkpoints, and cancellation.
//
// The engine does not run steps itself. It hands ready steps to a Runner
// collaborator (typically something that prompts agent sessions), and the
// runner reports outcomes back via ReportStepResult. Execution state is
// checkpointed to a store.CheckpointStore after every transition; the
// latest checkpoint is the sole source of truth when resuming.
package workflow

import "time"

// Definition is a reusable workflow blueprint.
type Definition struct {
	// ID identifies the definition; executions reference it.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty"`

	// Steps are the workflow's work items. Order is irrelevant; DependsOn
	// edges define the execution order.
	Steps []Step `json:"steps"`
}

// step looks up a step by id.
func (d Definition) step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Step is one unit of work in a definition.
type Step struct {
	// ID is unique within the definition.
	ID string `json:"id"`

	// Title describes the work for humans and agents.
	Title string `json:"title,omitempty"`

	// DependsOn lists step ids that must complete before this step runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Retry governs re-issuance after failures. The zero value means a
	// single attempt with no retries.
	Retry RetryPolicy `json:"retry,omitempty"`
}

// RetryPolicy controls how a failing step is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff is the delay before the second attempt.
	Backoff time.Duration `json:"backoff,omitempty"`

	// Exponential doubles the delay on each subsequent attempt.
	Exponential bool `json:"exponential,omitempty"`
}

// maxAttempts normalizes MaxAttempts to at least one.
func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the wait before the given attempt (2-based: the first
// retry is attempt 2).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	if !p.Exponential {
		return p.Backoff
	}
	d := p.Backoff
	for i := 2; i < attempt; i++ {
		d *= 2
	}
	return d
}
