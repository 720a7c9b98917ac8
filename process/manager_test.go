package process

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(Options{GracePeriod: 500 * time.Millisecond})
}

func waitDone(t *testing.T, proc *ManagedProcess, within time.Duration) {
	t.Helper()
	select {
	case <-proc.Done():
	case <-time.After(within):
		t.Fatalf("process %s did not exit within %v (status %s)", proc.ID(), within, proc.Status())
	}
}

func TestAcquire_SpawnsProcess(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{
		Command: "sh",
		Args:    []string{"-c", "echo hello"},
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	if proc.ID() == "" {
		t.Error("expected non-empty process id")
	}
	if proc.PID() == 0 {
		t.Error("expected non-zero OS pid")
	}

	waitDone(t, proc, 5*time.Second)
	if got := proc.Status(); got != StatusExited {
		t.Errorf("expected status exited, got %s", got)
	}
	if got := proc.ExitCode(); got != 0 {
		t.Errorf("expected exit code 0, got %d", got)
	}
}

func TestAcquire_SpawnFailure(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	_, err := m.Acquire(context.Background(), Config{Command: "/no/such/executable"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.Command != "/no/such/executable" {
		t.Errorf("unexpected command in error: %q", spawnErr.Command)
	}

	if got := m.Metrics().TotalSpawned; got != 0 {
		t.Errorf("failed spawn must not count, got TotalSpawned=%d", got)
	}
}

func TestRelease_GracefulThenTerminal(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{
		Command: "sleep",
		Args:    []string{"60"},
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	start := time.Now()
	if err := m.Release(proc.ID()); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	// Grace period + small epsilon, never hanging.
	waitDone(t, proc, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("release took %v, expected within grace period + epsilon", elapsed)
	}
	if got := proc.Status(); got != StatusKilled {
		t.Errorf("expected status killed, got %s", got)
	}

	// Releasing an already-exited process is a no-op.
	if err := m.Release(proc.ID()); err != nil {
		t.Errorf("second Release returned error: %v", err)
	}
}

func TestRelease_EscalatesWhenSignalIgnored(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	// Trap TERM so only the escalation kill can end it.
	proc, err := m.Acquire(context.Background(), Config{
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; sleep 60`},
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	if err := m.Release(proc.ID()); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	waitDone(t, proc, 3*time.Second)
	if got := proc.Status(); got != StatusKilled {
		t.Errorf("expected status killed after escalation, got %s", got)
	}
}

func TestSendInput_AndOutputHandlers(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{Command: "cat"})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	var mu sync.Mutex
	var lines []string
	firstDone := make(chan struct{})
	if err := m.OnOutput(proc.ID(), func(data []byte) {
		mu.Lock()
		lines = append(lines, string(data))
		if len(lines) == 1 {
			close(firstDone)
		}
		mu.Unlock()
	}); err != nil {
		t.Fatalf("OnOutput returned error: %v", err)
	}

	// Second handler must also see every chunk, after the first.
	secondCalls := 0
	if err := m.OnOutput(proc.ID(), func(data []byte) {
		mu.Lock()
		secondCalls++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("OnOutput returned error: %v", err)
	}

	if err := m.SendInput(proc.ID(), []byte("ping\n")); err != nil {
		t.Fatalf("SendInput returned error: %v", err)
	}

	select {
	case <-firstDone:
	case <-time.After(3 * time.Second):
		t.Fatal("no output received from cat")
	}

	mu.Lock()
	if len(lines) != 1 || lines[0] != "ping" {
		t.Errorf("unexpected output lines: %v", lines)
	}
	if secondCalls != 1 {
		t.Errorf("expected second handler to see 1 chunk, got %d", secondCalls)
	}
	mu.Unlock()

	if err := m.Release(proc.ID()); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	waitDone(t, proc, 2*time.Second)

	if err := m.SendInput(proc.ID(), []byte("late\n")); !errors.Is(err, ErrInputClosed) {
		t.Errorf("expected ErrInputClosed after exit, got %v", err)
	}
}

func TestOnError_ReceivesStderr(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{
		Command: "sh",
		Args:    []string{"-c", "sleep 0.2; echo oops >&2"},
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	var mu sync.Mutex
	var stderr []string
	if err := m.OnError(proc.ID(), func(e error) {
		var line *StderrLine
		if errors.As(e, &line) {
			mu.Lock()
			stderr = append(stderr, line.Line)
			mu.Unlock()
		}
	}); err != nil {
		t.Fatalf("OnError returned error: %v", err)
	}

	// Done() only fires after the stderr pump has drained.
	waitDone(t, proc, 5*time.Second)

	mu.Lock()
	if len(stderr) == 0 {
		mu.Unlock()
		t.Fatal("no stderr lines received")
	}
	if !strings.Contains(stderr[0], "oops") {
		t.Errorf("unexpected stderr line: %q", stderr[0])
	}
	mu.Unlock()
}

func TestOutput_FullyDeliveredBeforeDone(t *testing.T) {
	const want = 2000

	m := newTestManager()
	defer m.Shutdown()

	// The sleep keeps all output well after handler registration, so any
	// lost lines are dropped between process exit and pump drain, not
	// before the handler existed.
	proc, err := m.Acquire(context.Background(), Config{
		Command: "sh",
		Args:    []string{"-c", `sleep 0.2; i=1; while [ $i -le 2000 ]; do echo "line $i"; i=$((i+1)); done`},
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	var mu sync.Mutex
	got := 0
	if err := m.OnOutput(proc.ID(), func(data []byte) {
		mu.Lock()
		got++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("OnOutput returned error: %v", err)
	}

	waitDone(t, proc, 10*time.Second)

	// Done() must not fire until every buffered chunk has been dispatched.
	mu.Lock()
	defer mu.Unlock()
	if got != want {
		t.Fatalf("got %d of %d lines (tail lost)", got, want)
	}
}

func TestUnknownProcessID(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	if err := m.Release("missing"); !errors.Is(err, ErrUnknownProcess) {
		t.Errorf("Release: expected ErrUnknownProcess, got %v", err)
	}
	if err := m.SendInput("missing", []byte("x")); !errors.Is(err, ErrUnknownProcess) {
		t.Errorf("SendInput: expected ErrUnknownProcess, got %v", err)
	}
	if err := m.OnOutput("missing", func([]byte) {}); !errors.Is(err, ErrUnknownProcess) {
		t.Errorf("OnOutput: expected ErrUnknownProcess, got %v", err)
	}
}

func TestIdleTimeout_TerminatesSilentProcess(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{
		Command:     "sleep",
		Args:        []string{"60"},
		IdleTimeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	waitDone(t, proc, 3*time.Second)
	if got := proc.Status(); got != StatusKilled {
		t.Errorf("expected idle timeout to kill the process, got status %s", got)
	}
}

func TestOverallTimeout_TerminatesProcess(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{
		Command: "sleep",
		Args:    []string{"60"},
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	waitDone(t, proc, 3*time.Second)
	if got := proc.Status(); got != StatusKilled {
		t.Errorf("expected overall timeout to kill the process, got status %s", got)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	p1, err := m.Acquire(context.Background(), Config{Command: "sleep", Args: []string{"60"}})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	p2, err := m.Acquire(context.Background(), Config{Command: "sh", Args: []string{"-c", "true"}})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	waitDone(t, p2, 5*time.Second)

	snap := m.Metrics()
	if snap.TotalSpawned != 2 {
		t.Errorf("expected TotalSpawned=2, got %d", snap.TotalSpawned)
	}
	if snap.Active != 1 {
		t.Errorf("expected Active=1, got %d", snap.Active)
	}

	if err := m.Release(p1.ID()); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	waitDone(t, p1, 2*time.Second)

	snap = m.Metrics()
	if snap.Active != 0 {
		t.Errorf("expected Active=0 after release, got %d", snap.Active)
	}
	if snap.TotalTerminated != 2 {
		t.Errorf("expected TotalTerminated=2, got %d", snap.TotalTerminated)
	}
}

func TestShutdown_TerminatesEverything(t *testing.T) {
	m := newTestManager()

	var procs []*ManagedProcess
	for i := 0; i < 3; i++ {
		proc, err := m.Acquire(context.Background(), Config{Command: "sleep", Args: []string{"60"}})
		if err != nil {
			t.Fatalf("Acquire returned error: %v", err)
		}
		procs = append(procs, proc)
	}

	m.Shutdown()

	for _, proc := range procs {
		waitDone(t, proc, 2*time.Second)
		if got := proc.Status(); got != StatusKilled {
			t.Errorf("expected killed after shutdown, got %s", got)
		}
	}

	if _, err := m.Acquire(context.Background(), Config{Command: "true"}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed after shutdown, got %v", err)
	}

	// Shutdown is idempotent.
	m.Shutdown()
}

func TestHandlerPanicIsolation(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{Command: "cat"})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	received := make(chan string, 1)
	_ = m.OnOutput(proc.ID(), func(data []byte) { panic("bad handler") })
	_ = m.OnOutput(proc.ID(), func(data []byte) {
		select {
		case received <- string(data):
		default:
		}
	})

	if err := m.SendInput(proc.ID(), []byte("still-delivered\n")); err != nil {
		t.Fatalf("SendInput returned error: %v", err)
	}

	select {
	case line := <-received:
		if line != "still-delivered" {
			t.Errorf("unexpected line %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second handler never ran; panic was not isolated")
	}
}

func TestRetention_ForgetsExitedProcesses(t *testing.T) {
	m := NewManager(Options{
		GracePeriod: 500 * time.Millisecond,
		Retention:   100 * time.Millisecond,
	})
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{Command: "sh", Args: []string{"-c", "true"}})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	waitDone(t, proc, 5*time.Second)

	// Queryable until the retention window passes, then forgotten.
	if _, err := m.Get(proc.ID()); err != nil {
		t.Fatalf("Get right after exit: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		if _, err := m.Get(proc.ID()); errors.Is(err, ErrUnknownProcess) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("exited process never evicted")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if got := m.Metrics().TotalTerminated; got != 1 {
		t.Errorf("eviction must not lose counters, TotalTerminated=%d", got)
	}
}

func TestAlive(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	proc, err := m.Acquire(context.Background(), Config{Command: "sleep", Args: []string{"60"}})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	if !Alive(proc.PID()) {
		t.Error("expected running process to be alive")
	}
	if Alive(0) || Alive(-1) {
		t.Error("expected non-positive pids to be dead")
	}

	_ = m.Release(proc.ID())
	waitDone(t, proc, 2*time.Second)
}
