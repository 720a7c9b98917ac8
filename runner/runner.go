// Package runner bridges the workflow engine to agent sessions: each issued
// step becomes one prompt turn against a session from a provider, and the
// turn's outcome is reported back to the engine.
package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/conductor-go/session"
	"github.com/dshills/conductor-go/workflow"
)

// Reporter receives step outcomes. *workflow.Engine satisfies it.
type Reporter interface {
	ReportStepResult(ctx context.Context, executionID, stepID string, stepErr error) error
}

// Options configures a SessionRunner.
type Options struct {
	// Mode is the session mode for step turns. Empty means the
	// provider's default.
	Mode session.Mode

	// SystemPrompt seeds every step session.
	SystemPrompt string

	// MaxFinished caps how many finished run statuses are retained for
	// GetExecutionStatus; the oldest are evicted first. Zero means
	// DefaultMaxFinished.
	MaxFinished int
}

// DefaultMaxFinished is the retained finished-run history when
// Options.MaxFinished is zero.
const DefaultMaxFinished = 1024

// SessionRunner implements workflow.Runner over a session provider. Every
// issued step runs as a single prompt turn in its own session; the session
// closes when the turn ends, leaving the provider's transport up for the
// next step.
type SessionRunner struct {
	provider session.Provider
	reporter Reporter
	opts     Options

	mu         sync.Mutex
	active     map[string]*run // runner execution id -> in-flight run
	final      map[string]workflow.RunStatus
	finalOrder []string // finish order, for eviction
}

type run struct {
	sess   session.Session
	cancel context.CancelFunc
}

// New creates a runner issuing steps against provider and reporting
// outcomes to reporter.
func New(provider session.Provider, reporter Reporter, opts Options) *SessionRunner {
	if opts.MaxFinished <= 0 {
		opts.MaxFinished = DefaultMaxFinished
	}
	return &SessionRunner{
		provider: provider,
		reporter: reporter,
		opts:     opts,
		active:   make(map[string]*run),
		final:    make(map[string]workflow.RunStatus),
	}
}

// StartExecution opens a session rooted at workDir and prompts it with the
// step. The turn runs on its own goroutine; its outcome reaches the engine
// through the reporter.
func (r *SessionRunner) StartExecution(ctx context.Context, executionID string, step workflow.Step, workDir string) (string, error) {
	sess, err := r.provider.CreateSession(ctx, workDir, session.Options{
		Mode:         r.opts.Mode,
		SystemPrompt: r.opts.SystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("create session for step %s: %w", step.ID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	r.mu.Lock()
	r.active[id] = &run{sess: sess, cancel: cancel}
	r.mu.Unlock()

	go r.runStep(runCtx, id, executionID, step, sess)
	return id, nil
}

// CancelExecution cancels the in-flight turn and closes its session.
func (r *SessionRunner) CancelExecution(ctx context.Context, id string) error {
	r.mu.Lock()
	rn, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	_ = rn.sess.Cancel(ctx)
	rn.cancel()
	return nil
}

// GetExecutionStatus reports where an issued step stands. Executions this
// runner has never seen are an error, which the engine treats as lost work
// to re-issue.
func (r *SessionRunner) GetExecutionStatus(ctx context.Context, id string) (workflow.RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; ok {
		return workflow.RunStatusRunning, nil
	}
	if status, ok := r.final[id]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown execution %s", id)
}

func (r *SessionRunner) runStep(ctx context.Context, id, executionID string, step workflow.Step, sess session.Session) {
	err := r.promptStep(ctx, step, sess)
	_ = sess.Close()

	status := workflow.RunStatusCompleted
	if err != nil {
		status = workflow.RunStatusFailed
	}
	r.mu.Lock()
	if rn, ok := r.active[id]; ok {
		rn.cancel()
		delete(r.active, id)
	}
	r.final[id] = status
	r.finalOrder = append(r.finalOrder, id)
	for len(r.finalOrder) > r.opts.MaxFinished {
		delete(r.final, r.finalOrder[0])
		r.finalOrder = r.finalOrder[1:]
	}
	r.mu.Unlock()

	_ = r.reporter.ReportStepResult(context.Background(), executionID, step.ID, err)
}

// promptStep runs the step's single turn and consumes its update stream to
// completion. A turn that ends without error counts as step success; what
// the agent produced lives in the working tree, not in the stream.
func (r *SessionRunner) promptStep(ctx context.Context, step workflow.Step, sess session.Session) error {
	stream, err := sess.Prompt(ctx, stepPrompt(step))
	if err != nil {
		return fmt.Errorf("prompt step %s: %w", step.ID, err)
	}
	defer stream.Close()

	for {
		update, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("step %s turn: %w", step.ID, err)
		}
		// Permission requests cannot be answered unattended; decline so
		// the agent can finish the turn conservatively.
		if update.Kind == session.UpdatePermissionRequest && update.Permission != nil {
			r.declinePermission(sess, update.Permission)
		}
	}
}

func (r *SessionRunner) declinePermission(sess session.Session, req *session.PermissionRequest) {
	for _, opt := range req.Options {
		if strings.HasPrefix(opt.Kind, "reject") {
			_ = sess.RespondToPermission(req.ID, opt.ID)
			return
		}
	}
	if len(req.Options) > 0 {
		_ = sess.RespondToPermission(req.ID, req.Options[len(req.Options)-1].ID)
	}
}

func stepPrompt(step workflow.Step) string {
	if step.Title == "" {
		return step.ID
	}
	return step.Title
}

var _ workflow.Runner = (*SessionRunner)(nil)
