package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dshills/conductor-go/process"
	"github.com/dshills/conductor-go/session"
)

// protocolVersion is the wire protocol revision this client speaks.
const protocolVersion = 1

// Spawner establishes the transport to an agent. The working directory of
// the first session requesting the spawn is passed through so process-based
// agents can start in the right tree.
type Spawner func(ctx context.Context, workDir string) (Transport, error)

// ProcessSpawner returns a Spawner that launches the agent as a child
// process through manager. cfg.Dir is overridden with the requesting
// session's working directory.
func ProcessSpawner(manager *process.Manager, cfg process.Config) Spawner {
	return func(ctx context.Context, workDir string) (Transport, error) {
		cfg := cfg
		cfg.Dir = workDir
		proc, err := manager.Acquire(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewProcessTransport(manager, proc), nil
	}
}

// Provider runs sessions against a single agent subprocess. The process is
// spawned lazily on the first CreateSession or LoadSession and initialized
// with a capability handshake; it stays up across individual session
// closes and dies only with the provider.
type Provider struct {
	spawn Spawner

	mu          sync.Mutex
	state       session.State
	conn        *conn
	loadSession bool
	sessions    map[string]*stdioSession
}

// NewProvider returns an unspawned provider. No process is started until
// the first session is requested.
func NewProvider(spawn Spawner) *Provider {
	return &Provider{
		spawn:    spawn,
		state:    session.StateUnspawned,
		sessions: make(map[string]*stdioSession),
	}
}

// State reports the provider's lifecycle position.
func (p *Provider) State() session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CreateSession spawns the agent if needed and opens a fresh session
// rooted at workDir.
func (p *Provider) CreateSession(ctx context.Context, workDir string, opts session.Options) (session.Session, error) {
	c, err := p.ensureReady(ctx, workDir)
	if err != nil {
		return nil, err
	}

	params := sessionNewParams{Cwd: workDir, SystemPrompt: opts.SystemPrompt}
	if opts.Mode != "" {
		params.ModeID = string(opts.Mode)
	}
	raw, err := c.call(ctx, "session/new", params)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	var result sessionNewResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("create session: decode result: %w", err)
	}
	if result.SessionID == "" {
		return nil, fmt.Errorf("create session: agent returned empty session id")
	}
	return p.register(result.SessionID), nil
}

// LoadSession resumes sessionID. When the agent does not advertise the
// load capability this degrades to CreateSession: callers need a working
// session more than they need strict resumption.
func (p *Provider) LoadSession(ctx context.Context, sessionID, workDir string, opts session.Options) (session.Session, error) {
	c, err := p.ensureReady(ctx, workDir)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	canLoad := p.loadSession
	p.mu.Unlock()
	if !canLoad {
		return p.CreateSession(ctx, workDir, opts)
	}

	if _, err := c.call(ctx, "session/load", sessionLoadParams{SessionID: sessionID, Cwd: workDir}); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return p.register(sessionID), nil
}

// SupportsSessionLoading reports the agent's resume capability. The answer
// comes from the initialize handshake, so it is unknown until the agent
// has been spawned.
func (p *Provider) SupportsSessionLoading() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case session.StateReady:
		return p.loadSession, nil
	case session.StateClosing, session.StateClosed:
		return false, session.ErrProviderClosed
	default:
		return false, session.ErrNotSpawned
	}
}

// Close terminates the agent process. In-flight prompt streams finish with
// an error; further operations fail with ErrProviderClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.state == session.StateClosed || p.state == session.StateClosing {
		p.mu.Unlock()
		return nil
	}
	p.state = session.StateClosing
	c := p.conn
	sessions := p.sessions
	p.sessions = make(map[string]*stdioSession)
	p.mu.Unlock()

	for _, s := range sessions {
		s.providerClosed()
	}

	var err error
	if c != nil {
		err = c.close()
	}

	p.mu.Lock()
	p.state = session.StateClosed
	p.mu.Unlock()
	return err
}

// ensureReady drives unspawned -> spawning -> ready, holding the lock
// across the transition so concurrent first callers serialize.
func (p *Provider) ensureReady(ctx context.Context, workDir string) (*conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case session.StateReady:
		return p.conn, nil
	case session.StateClosing, session.StateClosed:
		return nil, session.ErrProviderClosed
	}

	p.state = session.StateSpawning
	transport, err := p.spawn(ctx, workDir)
	if err != nil {
		p.state = session.StateUnspawned
		return nil, fmt.Errorf("spawn agent: %w", err)
	}
	c := newConn(transport, p.dispatch)

	raw, err := c.call(ctx, "initialize", initializeParams{ProtocolVersion: protocolVersion})
	if err != nil {
		_ = c.close()
		p.state = session.StateUnspawned
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		_ = c.close()
		p.state = session.StateUnspawned
		return nil, fmt.Errorf("initialize agent: decode result: %w", err)
	}

	p.conn = c
	p.loadSession = result.AgentCapabilities.LoadSession
	p.state = session.StateReady
	return c, nil
}

func (p *Provider) register(id string) *stdioSession {
	s := newStdioSession(id, p)
	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()
	return s
}

func (p *Provider) unregister(id string) {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
}

func (p *Provider) lookup(id string) *stdioSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[id]
}

// dispatch routes agent-initiated traffic. Updates for unknown sessions
// are dropped rather than treated as fatal.
func (p *Provider) dispatch(method string, id *int64, params json.RawMessage) {
	switch method {
	case "session/update":
		var note sessionNotification
		if err := json.Unmarshal(params, &note); err != nil {
			return
		}
		s := p.lookup(note.SessionID)
		if s == nil {
			return
		}
		u, err := decodeUpdate(note.SessionID, note.Update)
		if err != nil {
			return
		}
		s.deliver(u)

	case "session/request_permission":
		if id == nil {
			return
		}
		var req permissionParams
		if err := json.Unmarshal(params, &req); err != nil {
			return
		}
		s := p.lookup(req.SessionID)
		if s == nil {
			return
		}
		s.deliverPermission(*id, req)
	}
}

var _ session.Provider = (*Provider)(nil)
