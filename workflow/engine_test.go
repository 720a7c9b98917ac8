package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dshills/conductor-go/emit"
	"github.com/dshills/conductor-go/workflow/store"
)

// fakeRunner records issued steps and lets the test play the role of the
// executing agent, reporting results back through the engine.
type fakeRunner struct {
	mu        sync.Mutex
	seq       int
	starts    []startCall
	cancelled []string
	statuses  map[string]RunStatus
	startErr  map[string]error // step id -> error to return from StartExecution

	started chan startCall
}

type startCall struct {
	ExecutionID string
	Step        Step
	WorkDir     string
	RunnerID    string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		statuses: make(map[string]RunStatus),
		startErr: make(map[string]error),
		started:  make(chan startCall, 32),
	}
}

func (r *fakeRunner) StartExecution(ctx context.Context, executionID string, step Step, workDir string) (string, error) {
	r.mu.Lock()
	if err := r.startErr[step.ID]; err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.seq++
	call := startCall{ExecutionID: executionID, Step: step, WorkDir: workDir, RunnerID: fmt.Sprintf("run-%d", r.seq)}
	r.starts = append(r.starts, call)
	r.mu.Unlock()

	r.started <- call
	return call.RunnerID, nil
}

func (r *fakeRunner) CancelExecution(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
	return nil
}

func (r *fakeRunner) GetExecutionStatus(ctx context.Context, id string) (RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[id]
	if !ok {
		return "", errors.New("unknown execution")
	}
	return status, nil
}

func (r *fakeRunner) startCount(stepID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.starts {
		if c.Step.ID == stepID {
			n++
		}
	}
	return n
}

func (r *fakeRunner) wasCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cancelled {
		if c == id {
			return true
		}
	}
	return false
}

// nextStart waits for the runner to receive a step.
func (r *fakeRunner) nextStart(t *testing.T) startCall {
	t.Helper()
	select {
	case call := <-r.started:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a step to be issued")
		return startCall{}
	}
}

func waitState(t *testing.T, e *Engine, execID string, want State) Execution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := e.Execution(context.Background(), execID)
		if err != nil {
			t.Fatalf("Execution: %v", err)
		}
		if snap.State == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution state = %q, want %q; steps: %+v", snap.State, want, snap.Steps)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIndependentStepsRunInParallel(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a", Title: "step a"},
		{ID: "b", Title: "step b"},
		{ID: "c", Title: "step c"},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "/tmp/repo", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// All three are issued before any result is reported.
	issued := map[string]bool{}
	for i := 0; i < 3; i++ {
		call := runner.nextStart(t)
		issued[call.Step.ID] = true
		if call.WorkDir != "/tmp/repo" {
			t.Errorf("workDir = %q, want /tmp/repo", call.WorkDir)
		}
	}
	if len(issued) != 3 {
		t.Fatalf("issued steps = %v, want a, b, c", issued)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := e.ReportStepResult(ctx, execID, id, nil); err != nil {
			t.Fatalf("ReportStepResult(%s): %v", id, err)
		}
	}

	snap := waitState(t, e, execID, StateCompleted)
	for id, st := range snap.Steps {
		if st.Status != StepCompleted {
			t.Errorf("step %s status = %q, want completed", id, st.Status)
		}
		if st.Attempts != 1 {
			t.Errorf("step %s attempts = %d, want 1", id, st.Attempts)
		}
	}
}

func TestDependentStepWaitsForDependency(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := runner.nextStart(t)
	if first.Step.ID != "a" {
		t.Fatalf("first issued step = %q, want a", first.Step.ID)
	}
	if n := runner.startCount("b"); n != 0 {
		t.Fatalf("b issued %d times before a finished", n)
	}

	if err := e.ReportStepResult(ctx, execID, "a", nil); err != nil {
		t.Fatalf("ReportStepResult(a): %v", err)
	}
	second := runner.nextStart(t)
	if second.Step.ID != "b" {
		t.Fatalf("second issued step = %q, want b", second.Step.ID)
	}
	if err := e.ReportStepResult(ctx, execID, "b", nil); err != nil {
		t.Fatalf("ReportStepResult(b): %v", err)
	}
	waitState(t, e, execID, StateCompleted)
}

func TestPausePreventsIssuanceUntilResume(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a"},
		{ID: "c", DependsOn: []string{"a"}},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	runner.nextStart(t)

	if err := e.Pause(ctx, execID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Results for already-running steps are still accepted while paused.
	if err := e.ReportStepResult(ctx, execID, "a", nil); err != nil {
		t.Fatalf("ReportStepResult while paused: %v", err)
	}
	if n := runner.startCount("c"); n != 0 {
		t.Fatalf("c issued while paused")
	}
	snap, _ := e.Execution(ctx, execID)
	if snap.State != StatePaused {
		t.Fatalf("state = %q, want paused", snap.State)
	}
	// The dependency completed, so c is ready even though issuance waits.
	if got := snap.Steps["c"].Status; got != StepReady {
		t.Fatalf("step c status = %q while paused, want ready", got)
	}

	if err := e.Resume(ctx, execID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	call := runner.nextStart(t)
	if call.Step.ID != "c" {
		t.Fatalf("issued %q after resume, want c", call.Step.ID)
	}
	if err := e.ReportStepResult(ctx, execID, "c", nil); err != nil {
		t.Fatalf("ReportStepResult(c): %v", err)
	}
	waitState(t, e, execID, StateCompleted)
}

func TestRetryExhaustionFailsStep(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "flaky", Retry: RetryPolicy{MaxAttempts: 2, Backoff: 10 * time.Millisecond}},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	runner.nextStart(t)
	before := time.Now()
	if err := e.ReportStepResult(ctx, execID, "flaky", errors.New("transient")); err != nil {
		t.Fatalf("ReportStepResult: %v", err)
	}

	// The retry arrives after the backoff.
	runner.nextStart(t)
	if elapsed := time.Since(before); elapsed < 10*time.Millisecond {
		t.Errorf("retry arrived after %v, want at least the 10ms backoff", elapsed)
	}
	if err := e.ReportStepResult(ctx, execID, "flaky", errors.New("still broken")); err != nil {
		t.Fatalf("ReportStepResult: %v", err)
	}

	snap := waitState(t, e, execID, StateFailed)
	st := snap.Steps["flaky"]
	if st.Status != StepFailed {
		t.Errorf("step status = %q, want failed", st.Status)
	}
	if st.Attempts != 2 {
		t.Errorf("attempts = %d, want exactly 2", st.Attempts)
	}
	if st.LastError != "still broken" {
		t.Errorf("last error = %q", st.LastError)
	}
	if n := runner.startCount("flaky"); n != 2 {
		t.Errorf("step issued %d times, want 2", n)
	}
}

func TestFailureFailsDependentsButNotIndependents(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d"},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	runner.nextStart(t)
	runner.nextStart(t)

	if err := e.ReportStepResult(ctx, execID, "a", errors.New("boom")); err != nil {
		t.Fatalf("ReportStepResult(a): %v", err)
	}
	if err := e.ReportStepResult(ctx, execID, "d", nil); err != nil {
		t.Fatalf("ReportStepResult(d): %v", err)
	}

	snap := waitState(t, e, execID, StateFailed)
	wantStatus := map[string]StepStatus{
		"a": StepFailed,
		"b": StepFailed,
		"c": StepFailed,
		"d": StepCompleted,
	}
	for id, want := range wantStatus {
		if got := snap.Steps[id].Status; got != want {
			t.Errorf("step %s status = %q, want %q", id, got, want)
		}
	}
	if n := runner.startCount("b"); n != 0 {
		t.Errorf("b issued %d times despite its failed dependency", n)
	}
	if snap.Steps["b"].LastError == "" {
		t.Error("propagated failure should record what blocked the step")
	}
}

func TestFailFastCancelsRunningSteps(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{FailurePolicy: FailFast})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a"},
		{ID: "b"},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	c1 := runner.nextStart(t)
	c2 := runner.nextStart(t)

	if err := e.ReportStepResult(ctx, execID, "a", errors.New("boom")); err != nil {
		t.Fatalf("ReportStepResult: %v", err)
	}

	snap := waitState(t, e, execID, StateFailed)
	if snap.Steps["b"].Status != StepSkipped {
		t.Errorf("b status = %q, want skipped", snap.Steps["b"].Status)
	}

	// The still-running step was cancelled at the runner.
	other := c1.RunnerID
	if c1.Step.ID != "b" {
		other = c2.RunnerID
	}
	deadline := time.Now().Add(2 * time.Second)
	for !runner.wasCancelled(other) {
		if time.Now().After(deadline) {
			t.Fatalf("runner execution %s was never cancelled", other)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelSkipsAndCancels(t *testing.T) {
	runner := newFakeRunner()
	e := New(runner, nil, nil, Options{})

	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	ctx := context.Background()
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	call := runner.nextStart(t)

	if err := e.Cancel(ctx, execID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	snap := waitState(t, e, execID, StateCancelled)
	if snap.Steps["a"].Status != StepSkipped || snap.Steps["b"].Status != StepSkipped {
		t.Errorf("steps = %+v, want both skipped", snap.Steps)
	}
	if !runner.wasCancelled(call.RunnerID) {
		t.Errorf("running step was not cancelled at the runner")
	}

	// Results arriving after cancellation are rejected.
	var stateErr *WorkflowStateError
	if err := e.ReportStepResult(ctx, execID, "a", nil); !errors.As(err, &stateErr) {
		t.Errorf("ReportStepResult after cancel: err = %v, want *WorkflowStateError", err)
	}
	// So is cancelling twice.
	if err := e.Cancel(ctx, execID); !errors.As(err, &stateErr) {
		t.Errorf("second Cancel: err = %v, want *WorkflowStateError", err)
	}
}

func TestResumeFromCheckpointReconcilesRunningSteps(t *testing.T) {
	st := store.NewMemStore()
	def := Definition{ID: "wf", Steps: []Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	ctx := context.Background()

	runner1 := newFakeRunner()
	e1 := New(runner1, st, nil, Options{})
	execID, err := e1.Start(ctx, def, "/tmp/repo", StartOptions{Context: map[string]any{"pr": 42}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	call := runner1.nextStart(t)

	// Process "restarts": a new engine over the same store. The agent
	// finished step a while the orchestrator was away.
	runner2 := newFakeRunner()
	runner2.statuses[call.RunnerID] = RunStatusCompleted
	e2 := New(runner2, st, nil, Options{})
	if err := e2.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	if err := e2.Resume(ctx, execID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	next := runner2.nextStart(t)
	if next.Step.ID != "b" {
		t.Fatalf("resumed engine issued %q, want b", next.Step.ID)
	}
	snap, err := e2.Execution(ctx, execID)
	if err != nil {
		t.Fatalf("Execution: %v", err)
	}
	if snap.Steps["a"].Status != StepCompleted {
		t.Errorf("a status = %q, want completed after reconciliation", snap.Steps["a"].Status)
	}
	if got := snap.Context["pr"]; got != float64(42) && got != 42 {
		t.Errorf("context[pr] = %v, want 42", got)
	}

	if err := e2.ReportStepResult(ctx, execID, "b", nil); err != nil {
		t.Fatalf("ReportStepResult(b): %v", err)
	}
	waitState(t, e2, execID, StateCompleted)
}

func TestResumeReissuesLostSteps(t *testing.T) {
	st := store.NewMemStore()
	def := Definition{ID: "wf", Steps: []Step{{ID: "a"}}}
	ctx := context.Background()

	runner1 := newFakeRunner()
	e1 := New(runner1, st, nil, Options{})
	execID, err := e1.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	runner1.nextStart(t)

	// The new runner has no record of the old execution: re-issue.
	runner2 := newFakeRunner()
	e2 := New(runner2, st, nil, Options{})
	if err := e2.RegisterDefinition(def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}
	if err := e2.Resume(ctx, execID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	call := runner2.nextStart(t)
	if call.Step.ID != "a" {
		t.Fatalf("reissued %q, want a", call.Step.ID)
	}
	snap, _ := e2.Execution(ctx, execID)
	if snap.Steps["a"].Attempts != 2 {
		t.Errorf("attempts = %d, want 2 after reissue", snap.Steps["a"].Attempts)
	}
}

func TestStartValidation(t *testing.T) {
	e := New(newFakeRunner(), nil, nil, Options{})
	ctx := context.Background()

	t.Run("cycle", func(t *testing.T) {
		def := Definition{ID: "wf", Steps: []Step{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		}}
		var cycleErr *WorkflowCycleError
		if _, err := e.Start(ctx, def, "", StartOptions{}); !errors.As(err, &cycleErr) {
			t.Fatalf("err = %v, want *WorkflowCycleError", err)
		}
		if len(cycleErr.Members) < 2 {
			t.Errorf("cycle members = %v", cycleErr.Members)
		}
	})

	t.Run("unknown dependency", func(t *testing.T) {
		def := Definition{ID: "wf", Steps: []Step{
			{ID: "a", DependsOn: []string{"ghost"}},
		}}
		var notFound *WorkflowStepNotFoundError
		if _, err := e.Start(ctx, def, "", StartOptions{}); !errors.As(err, &notFound) {
			t.Fatalf("err = %v, want *WorkflowStepNotFoundError", err)
		}
		if notFound.StepID != "ghost" {
			t.Errorf("missing step = %q, want ghost", notFound.StepID)
		}
	})
}

func TestUnknownExecutionErrors(t *testing.T) {
	e := New(newFakeRunner(), nil, nil, Options{})
	ctx := context.Background()

	var notFound *WorkflowNotFoundError
	if err := e.Pause(ctx, "nope"); !errors.As(err, &notFound) {
		t.Errorf("Pause: err = %v, want *WorkflowNotFoundError", err)
	}
	if err := e.Resume(ctx, "nope"); !errors.As(err, &notFound) {
		t.Errorf("Resume: err = %v, want *WorkflowNotFoundError", err)
	}
	if err := e.Cancel(ctx, "nope"); !errors.As(err, &notFound) {
		t.Errorf("Cancel: err = %v, want *WorkflowNotFoundError", err)
	}
	if err := e.ReportStepResult(ctx, "nope", "a", nil); !errors.As(err, &notFound) {
		t.Errorf("ReportStepResult: err = %v, want *WorkflowNotFoundError", err)
	}
	if _, err := e.Execution(ctx, "nope"); !errors.As(err, &notFound) {
		t.Errorf("Execution: err = %v, want *WorkflowNotFoundError", err)
	}
}

func TestListenersOrderedAndPanicIsolated(t *testing.T) {
	runner := newFakeRunner()
	buffered := emit.NewBufferedEmitter()
	e := New(runner, nil, buffered, Options{})

	var mu sync.Mutex
	var order []string
	e.OnEvent(func(ev emit.Event) {
		mu.Lock()
		order = append(order, "first:"+ev.Msg)
		mu.Unlock()
	})
	e.OnEvent(func(ev emit.Event) {
		panic("listener bug")
	})
	e.OnEvent(func(ev emit.Event) {
		mu.Lock()
		order = append(order, "third:"+ev.Msg)
		mu.Unlock()
	})

	ctx := context.Background()
	def := Definition{ID: "wf", Steps: []Step{{ID: "a"}}}
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	runner.nextStart(t)
	if err := e.ReportStepResult(ctx, execID, "a", nil); err != nil {
		t.Fatalf("ReportStepResult: %v", err)
	}
	waitState(t, e, execID, StateCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(order) == 0 || len(order)%2 != 0 {
		t.Fatalf("listener order = %v, want first/third pairs", order)
	}
	for i := 0; i < len(order); i += 2 {
		if order[i][:6] != "first:" || order[i+1][:6] != "third:" {
			t.Fatalf("listeners out of order at %d: %v", i, order)
		}
	}

	// The emitter saw the lifecycle events too.
	history := buffered.History(execID)
	var sawStarted, sawCompleted bool
	for _, ev := range history {
		switch ev.Msg {
		case emit.WorkflowStarted:
			sawStarted = true
		case emit.WorkflowCompleted:
			sawCompleted = true
		}
	}
	if !sawStarted || !sawCompleted {
		t.Errorf("emitter history missing lifecycle events: %+v", history)
	}
}

func TestCheckpointAfterEveryTransition(t *testing.T) {
	st := store.NewMemStore()
	runner := newFakeRunner()
	e := New(runner, st, nil, Options{})

	ctx := context.Background()
	def := Definition{ID: "wf", Steps: []Step{{ID: "a"}}}
	execID, err := e.Start(ctx, def, "", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	runner.nextStart(t)
	if err := e.ReportStepResult(ctx, execID, "a", nil); err != nil {
		t.Fatalf("ReportStepResult: %v", err)
	}
	waitState(t, e, execID, StateCompleted)

	list, err := st.List(ctx, execID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) < 2 {
		t.Fatalf("checkpoint count = %d, want at least start + completion", len(list))
	}
	for i, cp := range list {
		if cp.Seq != i+1 {
			t.Errorf("checkpoint[%d].Seq = %d, want contiguous from 1", i, cp.Seq)
		}
	}

	latest, err := st.LoadLatest(ctx, execID)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	var snap Execution
	if err := json.Unmarshal(latest.State, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != StateCompleted {
		t.Errorf("latest checkpoint state = %q, want completed", snap.State)
	}
}

func TestExponentialBackoffDelays(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Backoff: 100 * time.Millisecond, Exponential: true}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, attempt := range []int{2, 3, 4} {
		if got := p.delay(attempt); got != want[i] {
			t.Errorf("delay(attempt %d) = %v, want %v", attempt, got, want[i])
		}
	}

	fixed := RetryPolicy{MaxAttempts: 3, Backoff: 50 * time.Millisecond}
	if got := fixed.delay(3); got != 50*time.Millisecond {
		t.Errorf("fixed delay = %v, want 50ms", got)
	}
}
