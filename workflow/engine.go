package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/conductor-go/depgraph"
	"github.com/dshills/conductor-go/emit"
	"github.com/dshills/conductor-go/workflow/store"
)

// Engine drives workflow executions: it issues ready steps to the runner in
// dependency order, retries failures per step policy, persists a checkpoint
// after every transition, and exposes pause/resume/cancel.
//
// All methods are safe for concurrent use. Event listeners run
// synchronously on the engine's goroutines and must not call back into the
// engine.
type Engine struct {
	runner  Runner
	store   store.CheckpointStore
	emitter emit.Emitter
	opts    Options

	mu          sync.Mutex
	definitions map[string]Definition
	executions  map[string]*liveExecution

	listenerMu sync.Mutex
	listeners  []func(emit.Event)
}

// liveExecution is the engine's in-memory view of one execution.
type liveExecution struct {
	def    Definition
	graph  *depgraph.Graph
	snap   *Execution
	timers map[string]*time.Timer // step id -> pending retry timer

	tickerStop chan struct{}
}

// New creates an engine. A nil emitter discards events; a nil store keeps
// checkpoints in memory.
func New(runner Runner, st store.CheckpointStore, emitter emit.Emitter, opts Options) *Engine {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	if st == nil {
		st = store.NewMemStore()
	}
	return &Engine{
		runner:      runner,
		store:       st,
		emitter:     emitter,
		opts:        opts,
		definitions: make(map[string]Definition),
		executions:  make(map[string]*liveExecution),
	}
}

// OnEvent registers a listener for engine events. Listeners run in
// registration order; a panicking listener is isolated and does not stop
// the ones after it.
func (e *Engine) OnEvent(fn func(emit.Event)) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// RegisterDefinition validates and records a definition so executions
// started in an earlier process can be resumed in this one.
func (e *Engine) RegisterDefinition(def Definition) error {
	if _, err := buildGraph(def); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.ID] = def
	return nil
}

// Start begins executing def in workDir. It validates the step graph,
// issues the first group of dependency-free steps, and returns the new
// execution id without waiting for any step to finish.
func (e *Engine) Start(ctx context.Context, def Definition, workDir string, opts StartOptions) (string, error) {
	g, err := buildGraph(def)
	if err != nil {
		return "", err
	}

	snap := &Execution{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		WorkDir:      workDir,
		State:        StatePending,
		Steps:        make(map[string]*StepState, len(def.Steps)),
		Context:      opts.Context,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	for _, s := range def.Steps {
		snap.Steps[s.ID] = &StepState{Status: StepPending}
	}
	x := &liveExecution{
		def:    def,
		graph:  g,
		snap:   snap,
		timers: make(map[string]*time.Timer),
	}

	e.mu.Lock()
	e.definitions[def.ID] = def
	e.executions[snap.ID] = x
	snap.State = StateRunning
	e.publish(e.event(x, emit.WorkflowStarted, "", nil))
	toStart := e.collectReadyLocked(x)
	if err := e.checkpointLocked(ctx, x); err != nil {
		delete(e.executions, snap.ID)
		e.mu.Unlock()
		return "", err
	}
	e.mu.Unlock()

	e.startSteps(ctx, x, toStart)
	e.startTicker(x)
	return snap.ID, nil
}

// ReportStepResult is how runners feed outcomes back: a nil stepErr marks
// the step completed and unblocks its dependents; a non-nil stepErr routes
// through the step's retry policy and, once exhausted, the engine's
// failure policy.
func (e *Engine) ReportStepResult(ctx context.Context, executionID, stepID string, stepErr error) error {
	e.mu.Lock()
	x, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return &WorkflowNotFoundError{ID: executionID}
	}
	st, ok := x.snap.Steps[stepID]
	if !ok {
		e.mu.Unlock()
		return &WorkflowStepNotFoundError{WorkflowID: x.def.ID, StepID: stepID}
	}
	if st.Status != StepRunning {
		e.mu.Unlock()
		return &WorkflowStateError{ID: executionID, State: x.snap.State, Op: fmt.Sprintf("report result for %s step %s", st.Status, stepID)}
	}

	var toStart []Step
	if stepErr == nil {
		st.Status = StepCompleted
		e.publish(e.event(x, emit.StepCompleted, stepID, nil))
		toStart = e.collectReadyLocked(x)
	} else {
		e.handleFailureLocked(ctx, x, stepID, stepErr.Error())
	}
	e.checkCompletionLocked(x)
	err := e.checkpointLocked(ctx, x)
	e.mu.Unlock()

	e.startSteps(ctx, x, toStart)
	return err
}

// Pause stops further step issuance. Steps already handed to the runner
// keep running; their results are still accepted while paused.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, ok := e.executions[executionID]
	if !ok {
		return &WorkflowNotFoundError{ID: executionID}
	}
	if x.snap.State != StateRunning {
		return &WorkflowStateError{ID: executionID, State: x.snap.State, Op: "pause"}
	}

	x.snap.State = StatePaused
	for id, t := range x.timers {
		t.Stop()
		delete(x.timers, id)
	}
	e.publish(e.event(x, emit.WorkflowPaused, "", nil))
	return e.checkpointLocked(ctx, x)
}

// Resume continues a paused execution, or rehydrates one from its latest
// checkpoint when it is not live in this process. During rehydration the
// checkpoint is the sole source of truth for engine-side state; steps that
// were running when it was written are reconciled against the runner and
// continued, completed, failed, or re-issued accordingly.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	e.mu.Lock()
	if x, ok := e.executions[executionID]; ok {
		if x.snap.State != StatePaused {
			e.mu.Unlock()
			return &WorkflowStateError{ID: executionID, State: x.snap.State, Op: "resume"}
		}
		x.snap.State = StateRunning
		e.publish(e.event(x, emit.WorkflowResumed, "", nil))
		toStart := e.collectReadyLocked(x)
		e.checkCompletionLocked(x)
		err := e.checkpointLocked(ctx, x)
		e.mu.Unlock()
		e.startSteps(ctx, x, toStart)
		return err
	}
	e.mu.Unlock()
	return e.restore(ctx, executionID)
}

// restore rebuilds a live execution from its latest checkpoint.
func (e *Engine) restore(ctx context.Context, executionID string) error {
	cp, err := e.store.LoadLatest(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &WorkflowNotFoundError{ID: executionID}
		}
		return fmt.Errorf("load checkpoint: %w", err)
	}
	snap := &Execution{}
	if err := json.Unmarshal(cp.State, snap); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	if snap.State.Terminal() {
		return &WorkflowStateError{ID: executionID, State: snap.State, Op: "resume"}
	}

	e.mu.Lock()
	def, ok := e.definitions[snap.DefinitionID]
	if !ok {
		e.mu.Unlock()
		return &WorkflowNotFoundError{ID: snap.DefinitionID}
	}
	g, err := buildGraph(def)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	x := &liveExecution{
		def:    def,
		graph:  g,
		snap:   snap,
		timers: make(map[string]*time.Timer),
	}
	e.executions[executionID] = x
	snap.State = StateRunning
	e.publish(e.event(x, emit.WorkflowResumed, "", nil))

	// Steps recorded as running must be reconciled with the runner.
	type openStep struct {
		stepID   string
		runnerID string
	}
	var open []openStep
	for _, id := range g.IDs() {
		st := snap.Steps[id]
		if st != nil && st.Status == StepRunning {
			open = append(open, openStep{stepID: id, runnerID: st.RunnerID})
		}
	}
	e.mu.Unlock()

	for _, o := range open {
		status, statusErr := e.runner.GetExecutionStatus(ctx, o.runnerID)

		e.mu.Lock()
		st := x.snap.Steps[o.stepID]
		switch {
		case statusErr != nil:
			// The runner lost track of it; issue it again.
			st.Status = StepReady
		case status == RunStatusCompleted:
			st.Status = StepCompleted
			e.publish(e.event(x, emit.StepCompleted, o.stepID, nil))
		case status == RunStatusFailed:
			e.handleFailureLocked(ctx, x, o.stepID, "failed while orchestrator was away")
		default:
			// Still running; its result will arrive via ReportStepResult.
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	toStart := e.collectReadyLocked(x)
	e.checkCompletionLocked(x)
	cpErr := e.checkpointLocked(ctx, x)
	e.mu.Unlock()

	e.startSteps(ctx, x, toStart)
	e.startTicker(x)
	return cpErr
}

// Cancel stops the execution: running steps are cancelled at the runner,
// everything not yet finished is skipped, and the execution lands in the
// cancelled state.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	x, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return &WorkflowNotFoundError{ID: executionID}
	}
	if x.snap.State != StateRunning && x.snap.State != StatePaused {
		e.mu.Unlock()
		return &WorkflowStateError{ID: executionID, State: x.snap.State, Op: "cancel"}
	}

	x.snap.State = StateCancelled
	for id, t := range x.timers {
		t.Stop()
		delete(x.timers, id)
	}

	var cancelIDs []string
	for _, id := range x.graph.IDs() {
		st := x.snap.Steps[id]
		switch st.Status {
		case StepRunning:
			cancelIDs = append(cancelIDs, st.RunnerID)
			st.Status = StepSkipped
			e.publish(e.event(x, emit.StepSkipped, id, nil))
		case StepPending, StepReady:
			st.Status = StepSkipped
			e.publish(e.event(x, emit.StepSkipped, id, nil))
		}
	}
	e.publish(e.event(x, emit.WorkflowCancelled, "", nil))
	e.stopTickerLocked(x)
	err := e.checkpointLocked(ctx, x)
	e.mu.Unlock()

	for _, rid := range cancelIDs {
		_ = e.runner.CancelExecution(ctx, rid)
	}
	return err
}

// Execution returns a copy of the execution snapshot, falling back to the
// latest checkpoint for executions not live in this process.
func (e *Engine) Execution(ctx context.Context, executionID string) (Execution, error) {
	e.mu.Lock()
	if x, ok := e.executions[executionID]; ok {
		snap := x.snap.clone()
		e.mu.Unlock()
		return snap, nil
	}
	e.mu.Unlock()

	cp, err := e.store.LoadLatest(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Execution{}, &WorkflowNotFoundError{ID: executionID}
		}
		return Execution{}, fmt.Errorf("load checkpoint: %w", err)
	}
	var snap Execution
	if err := json.Unmarshal(cp.State, &snap); err != nil {
		return Execution{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, nil
}

// buildGraph validates a definition's dependency structure through the
// analyzer, translating its errors into workflow terms.
func buildGraph(def Definition) (*depgraph.Graph, error) {
	items := make([]depgraph.WorkItem, 0, len(def.Steps))
	for _, s := range def.Steps {
		items = append(items, depgraph.WorkItem{ID: s.ID, Title: s.Title, DependsOn: s.DependsOn})
	}
	g, err := depgraph.Analyze(items)
	if err != nil {
		var cycleErr *depgraph.CycleError
		if errors.As(err, &cycleErr) {
			return nil, &WorkflowCycleError{DefinitionID: def.ID, Members: cycleErr.Members}
		}
		var missingErr *depgraph.MissingDependencyError
		if errors.As(err, &missingErr) {
			return nil, &WorkflowStepNotFoundError{WorkflowID: def.ID, StepID: missingErr.DependencyID}
		}
		return nil, err
	}
	return g, nil
}

// collectReadyLocked promotes every issuable step to running and returns
// the steps the caller must hand to the runner after releasing the lock.
// Steps whose dependencies have all completed become ready regardless of
// workflow state, so checkpoints taken while paused still reflect them;
// issuance itself only happens while running.
func (e *Engine) collectReadyLocked(x *liveExecution) []Step {
	for _, id := range x.graph.IDs() {
		st := x.snap.Steps[id]
		if st.Status == StepPending && e.depsCompletedLocked(x, id) {
			st.Status = StepReady
		}
	}
	if x.snap.State != StateRunning {
		return nil
	}

	var out []Step
	for _, id := range x.graph.IDs() {
		st := x.snap.Steps[id]
		if st.Status != StepReady {
			continue
		}
		if _, waiting := x.timers[id]; waiting {
			continue
		}

		st.Status = StepRunning
		st.Attempts++
		e.publish(e.event(x, emit.StepStarted, id, map[string]any{"attempt": st.Attempts}))
		step, _ := x.def.step(id)
		out = append(out, step)
	}
	return out
}

func (e *Engine) depsCompletedLocked(x *liveExecution, stepID string) bool {
	for _, dep := range x.graph.DependsOn(stepID) {
		if st := x.snap.Steps[dep]; st == nil || st.Status != StepCompleted {
			return false
		}
	}
	return true
}

// startSteps hands collected steps to the runner. Called without the
// engine lock so synchronous runners can report results reentrantly.
func (e *Engine) startSteps(ctx context.Context, x *liveExecution, steps []Step) {
	for _, step := range steps {
		runnerID, err := e.runner.StartExecution(ctx, x.snap.ID, step, x.snap.WorkDir)

		e.mu.Lock()
		st := x.snap.Steps[step.ID]
		if err != nil {
			if st.Status == StepRunning {
				e.handleFailureLocked(ctx, x, step.ID, err.Error())
				e.checkCompletionLocked(x)
				_ = e.checkpointLocked(ctx, x)
			}
		} else if st.Status == StepRunning {
			st.RunnerID = runnerID
			_ = e.checkpointLocked(ctx, x)
		}
		e.mu.Unlock()
	}
}

// handleFailureLocked routes one failed attempt: schedule a retry while
// attempts remain, otherwise mark the step failed and apply the engine's
// failure policy.
func (e *Engine) handleFailureLocked(ctx context.Context, x *liveExecution, stepID, msg string) {
	st := x.snap.Steps[stepID]
	st.LastError = msg
	step, _ := x.def.step(stepID)

	if st.Attempts < step.Retry.maxAttempts() {
		st.Status = StepReady
		delay := step.Retry.delay(st.Attempts + 1)
		execID := x.snap.ID
		x.timers[stepID] = time.AfterFunc(delay, func() {
			e.retryFire(execID, stepID)
		})
		return
	}

	st.Status = StepFailed
	e.publish(e.event(x, emit.StepFailed, stepID, map[string]any{
		"error":    msg,
		"attempts": st.Attempts,
	}))

	if e.opts.FailurePolicy == FailFast {
		e.failFastLocked(ctx, x)
		return
	}
	e.failDependentsLocked(x, stepID)
}

// retryFire runs when a step's backoff elapses. While paused the step
// stays ready and is picked up by Resume instead.
func (e *Engine) retryFire(executionID, stepID string) {
	e.mu.Lock()
	x, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(x.timers, stepID)
	st := x.snap.Steps[stepID]
	if st.Status != StepReady || x.snap.State != StateRunning {
		e.mu.Unlock()
		return
	}

	st.Status = StepRunning
	st.Attempts++
	e.publish(e.event(x, emit.StepStarted, stepID, map[string]any{"attempt": st.Attempts}))
	ctx := context.Background()
	_ = e.checkpointLocked(ctx, x)
	step, _ := x.def.step(stepID)
	e.mu.Unlock()

	e.startSteps(ctx, x, []Step{step})
}

// failDependentsLocked propagates a step failure downstream: every step
// blocked on the failed one fails in turn, transitively. Skipped is
// reserved for cancellation paths.
func (e *Engine) failDependentsLocked(x *liveExecution, stepID string) {
	for _, dep := range x.graph.Blocks(stepID) {
		st := x.snap.Steps[dep]
		if st.Status != StepPending && st.Status != StepReady {
			continue
		}
		if t, ok := x.timers[dep]; ok {
			t.Stop()
			delete(x.timers, dep)
		}
		st.Status = StepFailed
		st.LastError = fmt.Sprintf("dependency %s failed", stepID)
		e.publish(e.event(x, emit.StepFailed, dep, map[string]any{"blocked_by": stepID}))
		e.failDependentsLocked(x, dep)
	}
}

// failFastLocked skips everything not yet finished. Running steps are
// cancelled best-effort on a separate goroutine since the lock is held.
func (e *Engine) failFastLocked(ctx context.Context, x *liveExecution) {
	var cancelIDs []string
	for _, id := range x.graph.IDs() {
		st := x.snap.Steps[id]
		switch st.Status {
		case StepRunning:
			cancelIDs = append(cancelIDs, st.RunnerID)
			st.Status = StepSkipped
			e.publish(e.event(x, emit.StepSkipped, id, nil))
		case StepPending, StepReady:
			if t, ok := x.timers[id]; ok {
				t.Stop()
				delete(x.timers, id)
			}
			st.Status = StepSkipped
			e.publish(e.event(x, emit.StepSkipped, id, nil))
		}
	}
	if len(cancelIDs) > 0 {
		go func() {
			for _, rid := range cancelIDs {
				_ = e.runner.CancelExecution(ctx, rid)
			}
		}()
	}
}

// checkCompletionLocked moves the execution to its terminal state once no
// step can make further progress.
func (e *Engine) checkCompletionLocked(x *liveExecution) {
	if x.snap.State != StateRunning {
		return
	}
	failed := false
	for _, st := range x.snap.Steps {
		switch st.Status {
		case StepPending, StepReady, StepRunning:
			return
		case StepFailed, StepSkipped:
			failed = true
		}
	}

	if failed {
		x.snap.State = StateFailed
		e.publish(e.event(x, emit.WorkflowFailed, "", nil))
	} else {
		x.snap.State = StateCompleted
		e.publish(e.event(x, emit.WorkflowCompleted, "", nil))
	}
	e.stopTickerLocked(x)
}

// checkpointLocked writes the snapshot as the next checkpoint in sequence.
func (e *Engine) checkpointLocked(ctx context.Context, x *liveExecution) error {
	x.snap.CheckpointSeq++
	x.snap.UpdatedAt = time.Now()
	data, err := json.Marshal(x.snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	cp := store.Checkpoint{
		ExecutionID: x.snap.ID,
		Seq:         x.snap.CheckpointSeq,
		State:       data,
	}
	if err := e.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	e.publish(e.event(x, emit.CheckpointSaved, "", map[string]any{"seq": cp.Seq}))
	return nil
}

// startTicker adds periodic checkpoints while the execution runs.
func (e *Engine) startTicker(x *liveExecution) {
	if e.opts.CheckpointInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	e.mu.Lock()
	if x.snap.State.Terminal() {
		e.mu.Unlock()
		return
	}
	x.tickerStop = stop
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.opts.CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.mu.Lock()
				if x.snap.State.Terminal() {
					e.mu.Unlock()
					return
				}
				if x.snap.State == StateRunning {
					_ = e.checkpointLocked(context.Background(), x)
				}
				e.mu.Unlock()
			}
		}
	}()
}

func (e *Engine) stopTickerLocked(x *liveExecution) {
	if x.tickerStop != nil {
		close(x.tickerStop)
		x.tickerStop = nil
	}
}

// event builds an engine event.
func (e *Engine) event(x *liveExecution, msg string, stepID string, meta map[string]any) emit.Event {
	return emit.Event{
		ExecutionID: x.snap.ID,
		StepID:      stepID,
		Msg:         msg,
		At:          time.Now(),
		Meta:        meta,
	}
}

// publish fans an event out to the emitter and every listener, isolating
// listener panics.
func (e *Engine) publish(ev emit.Event) {
	e.emitter.Emit(ev)

	e.listenerMu.Lock()
	listeners := make([]func(emit.Event), len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() { _ = recover() }()
			fn(ev)
		}()
	}
}
