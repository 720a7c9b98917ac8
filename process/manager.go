package process

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Options configures a Manager. Zero values are valid.
type Options struct {
	// GracePeriod is the default grace window between a termination signal
	// and the forceful kill that follows, used when a process Config does
	// not set its own. Zero means DefaultGracePeriod.
	GracePeriod time.Duration

	// Retention bounds how long an exited process stays queryable before
	// the manager forgets it, so long-lived managers do not accumulate
	// terminal entries. Zero means DefaultRetention.
	Retention time.Duration

	// Metrics, when non-nil, mirrors the manager's counters into
	// Prometheus collectors.
	Metrics *PrometheusMetrics
}

// Manager spawns, monitors, and terminates OS processes.
//
// Exactly one Manager instance holds authority over a given process id; the
// id is minted at spawn time and never reused. Manager is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	procs  map[string]*ManagedProcess
	closed bool

	totalSpawned    int
	totalTerminated int

	opts Options
}

// MetricsSnapshot is the aggregate view returned by Metrics. Callers use it
// for capacity and backpressure decisions; the manager itself enforces no
// concurrency limit.
type MetricsSnapshot struct {
	// Active is the number of tracked processes not yet terminal.
	Active int

	// TotalSpawned counts every successful spawn over the manager's life.
	TotalSpawned int

	// TotalTerminated counts every observed process exit.
	TotalTerminated int
}

// NewManager creates a process manager.
func NewManager(opts Options) *Manager {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Manager{
		procs: make(map[string]*ManagedProcess),
		opts:  opts,
	}
}

// Acquire spawns a process per the config and begins monitoring it.
//
// On launch failure it returns a *SpawnError and tracks nothing. On success
// the returned process is in StatusRunning with stdout/stderr pumps and any
// configured timeout timers armed. The context bounds only the spawn itself,
// not the process lifetime; lifetime is governed by Config.Timeout.
func (m *Manager) Acquire(ctx context.Context, cfg Config) (*ManagedProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}

	proc := &ManagedProcess{
		id:     uuid.New().String(),
		config: cfg,
		stdin:  stdin,
		status: StatusStarting,
		done:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		proc.status = StatusErrored
		return nil, &SpawnError{Command: cfg.Command, Err: err}
	}

	proc.mu.Lock()
	proc.osProcess = cmd.Process
	proc.status = StatusRunning
	proc.startedAt = time.Now()
	proc.mu.Unlock()

	m.mu.Lock()
	m.procs[proc.id] = proc
	m.totalSpawned++
	m.mu.Unlock()
	if m.opts.Metrics != nil {
		m.opts.Metrics.processSpawned()
	}

	m.armTimers(proc, cfg)

	// wait must not reap the process until both pumps hit EOF: Wait
	// closes the parent's pipe ends, and closing them early would drop
	// whatever output is still buffered in the pipes.
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		m.pumpOutput(proc, stdout, cfg.IdleTimeout)
	}()
	go func() {
		defer pumps.Done()
		m.pumpStderr(proc, stderr)
	}()
	go m.wait(proc, cmd, &pumps)

	return proc, nil
}

// Release performs a graceful shutdown of the process: a termination signal,
// a bounded grace wait, then a forceful kill if the process is still alive.
// Releasing an already-exited process is a no-op.
func (m *Manager) Release(id string) error {
	proc, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.signalWithEscalation(proc, syscall.SIGTERM)
}

// Terminate delivers the given signal immediately, with the same escalation
// fallback as Release if the process ignores it within the grace window. A
// nil signal defaults to SIGTERM.
func (m *Manager) Terminate(id string, sig os.Signal) error {
	proc, err := m.lookup(id)
	if err != nil {
		return err
	}
	if sig == nil {
		sig = syscall.SIGTERM
	}
	return m.signalWithEscalation(proc, sig)
}

// SendInput writes data to the process's input stream. It fails with
// ErrUnknownProcess for untracked ids and ErrInputClosed once the process
// has exited.
func (m *Manager) SendInput(id string, data []byte) error {
	proc, err := m.lookup(id)
	if err != nil {
		return err
	}

	proc.mu.Lock()
	terminal := proc.status.Terminal()
	stdin := proc.stdin
	proc.mu.Unlock()

	if terminal || stdin == nil {
		return ErrInputClosed
	}
	if _, err := stdin.Write(data); err != nil {
		return ErrInputClosed
	}
	return nil
}

// OnOutput registers a handler for the process's stdout chunks. Multiple
// handlers may be registered; all are invoked for every chunk in
// registration order.
func (m *Manager) OnOutput(id string, handler OutputHandler) error {
	proc, err := m.lookup(id)
	if err != nil {
		return err
	}
	proc.mu.Lock()
	proc.outputHandlers = append(proc.outputHandlers, handler)
	proc.mu.Unlock()
	return nil
}

// OnError registers a handler for the process's error events (stderr lines
// and abnormal exits), invoked in registration order.
func (m *Manager) OnError(id string, handler ErrorHandler) error {
	proc, err := m.lookup(id)
	if err != nil {
		return err
	}
	proc.mu.Lock()
	proc.errorHandlers = append(proc.errorHandlers, handler)
	proc.mu.Unlock()
	return nil
}

// Get returns the managed process for an id.
func (m *Manager) Get(id string) (*ManagedProcess, error) {
	return m.lookup(id)
}

// Metrics returns an aggregate snapshot of manager activity.
func (m *Manager) Metrics() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, proc := range m.procs {
		if !proc.Status().Terminal() {
			active++
		}
	}
	return MetricsSnapshot{
		Active:          active,
		TotalSpawned:    m.totalSpawned,
		TotalTerminated: m.totalTerminated,
	}
}

// Shutdown terminates every tracked process and clears internal state. The
// manager rejects further Acquire calls afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	procs := make([]*ManagedProcess, 0, len(m.procs))
	for _, proc := range m.procs {
		procs = append(procs, proc)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(p *ManagedProcess) {
			defer wg.Done()
			_ = m.signalWithEscalation(p, syscall.SIGTERM)
		}(proc)
	}
	wg.Wait()

	m.mu.Lock()
	m.procs = make(map[string]*ManagedProcess)
	m.mu.Unlock()
}

func (m *Manager) lookup(id string) (*ManagedProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, ok := m.procs[id]
	if !ok {
		return nil, ErrUnknownProcess
	}
	return proc, nil
}

// signalWithEscalation sends sig and waits up to the grace period for exit;
// if the process is still alive it sends SIGKILL and waits one more grace
// period. All waits are bounded; this never blocks indefinitely.
func (m *Manager) signalWithEscalation(proc *ManagedProcess, sig os.Signal) error {
	proc.mu.Lock()
	if proc.status.Terminal() {
		proc.mu.Unlock()
		return nil
	}
	proc.killed = true
	osProc := proc.osProcess
	grace := proc.config.GracePeriod
	proc.mu.Unlock()

	if grace <= 0 {
		grace = m.opts.GracePeriod
	}
	if osProc == nil {
		return nil
	}

	if err := osProc.Signal(sig); err != nil {
		// Signal delivery failing usually means the process exited
		// between the status check and here.
		return nil
	}

	select {
	case <-proc.done:
		return nil
	case <-time.After(grace):
	}

	_ = osProc.Kill()

	select {
	case <-proc.done:
	case <-time.After(grace):
	}
	return nil
}

// armTimers starts the overall and idle timeout timers for a process. Both
// escalate through signalWithEscalation and are cancelled on process exit.
func (m *Manager) armTimers(proc *ManagedProcess, cfg Config) {
	proc.mu.Lock()
	defer proc.mu.Unlock()

	if cfg.Timeout > 0 {
		proc.overallTimer = time.AfterFunc(cfg.Timeout, func() {
			_ = m.signalWithEscalation(proc, syscall.SIGTERM)
		})
	}
	if cfg.IdleTimeout > 0 {
		proc.idleTimer = time.AfterFunc(cfg.IdleTimeout, func() {
			_ = m.signalWithEscalation(proc, syscall.SIGTERM)
		})
	}
}

// pumpOutput reads stdout line-wise, dispatching each line to the output
// handlers and resetting the idle timer.
func (m *Manager) pumpOutput(proc *ManagedProcess, r io.Reader, idle time.Duration) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if idle > 0 {
			proc.resetIdle(idle)
		}
		proc.dispatchOutput(line)
	}
}

// pumpStderr reads stderr line-wise and dispatches each line to the error
// handlers as a *StderrLine.
func (m *Manager) pumpStderr(proc *ManagedProcess, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		proc.dispatchError(&StderrLine{Line: scanner.Text()})
	}
}

// wait drains the output pumps, reaps the process, records the terminal
// status, stops the timers, and updates manager counters. The pumps finish
// first so every buffered chunk reaches its handlers before Done() closes.
func (m *Manager) wait(proc *ManagedProcess, cmd *exec.Cmd, pumps *sync.WaitGroup) {
	pumps.Wait()
	err := cmd.Wait()

	proc.stopTimers()

	proc.mu.Lock()
	proc.exitErr = err
	if cmd.ProcessState != nil {
		proc.exitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case proc.killed:
		proc.status = StatusKilled
	case err == nil:
		proc.status = StatusExited
	default:
		if _, isExit := err.(*exec.ExitError); isExit {
			proc.status = StatusExited
		} else {
			proc.status = StatusErrored
		}
	}
	killed := proc.killed
	started := proc.startedAt
	proc.mu.Unlock()

	// Counters update before done closes so an observer woken by Done()
	// sees the exit reflected in Metrics.
	m.mu.Lock()
	m.totalTerminated++
	m.mu.Unlock()
	if m.opts.Metrics != nil {
		m.opts.Metrics.processExited(time.Since(started))
	}

	_ = proc.stdin.Close()
	close(proc.done)

	if err != nil && !killed {
		proc.dispatchError(err)
	}

	time.AfterFunc(m.opts.Retention, func() {
		m.mu.Lock()
		if tracked, ok := m.procs[proc.id]; ok && tracked == proc {
			delete(m.procs, proc.id)
		}
		m.mu.Unlock()
	})
}
