// Package session defines the transport-agnostic contract for conversational
// turn-based sessions with a coding agent.
//
// A Provider owns the transport (a local subprocess's stdio, or a networked
// connection) and mints Sessions against it. A Session conducts single turns
// via Prompt, which yields a finite pull-based stream of updates. The two
// transport variants live in the stdio and remote subpackages; they share
// this package's types rather than any base implementation.
package session

import "context"

// Mode switches the agent's behavior for subsequent turns.
type Mode string

const (
	// ModeCode is the default implementation mode.
	ModeCode Mode = "code"

	// ModePlan asks the agent to plan without making changes.
	ModePlan Mode = "plan"
)

// Options configures session creation.
type Options struct {
	// Mode is the initial behavioral mode. Empty means ModeCode.
	Mode Mode

	// SystemPrompt, when non-empty, seeds the session's system context.
	SystemPrompt string
}

// Session is one logical, turn-based conversation with an agent,
// independent of the transport carrying it.
//
// A session is logically independent of the process or connection hosting
// it: Close ends the conversation but never tears down the transport; the
// owning Provider does that.
type Session interface {
	// ID returns the session identifier, stable across LoadSession.
	ID() string

	// Prompt sends one turn and returns the finite stream of updates the
	// agent produces for it. The stream ends when the agent signals turn
	// completion. One turn may be in flight per session at a time.
	Prompt(ctx context.Context, text string) (*UpdateStream, error)

	// Cancel requests cancellation of the in-flight turn. Once the agent
	// acknowledges, the prompt stream terminates without further updates.
	// Cancelling with no turn in flight is a no-op.
	Cancel(ctx context.Context) error

	// SetMode switches the behavioral mode starting with the next prompt.
	SetMode(mode Mode) error

	// RespondToPermission answers a permission request the agent raised
	// mid-turn. Enqueueing may be synchronous (subprocess transport) or
	// asynchronous (networked transport); callers must tolerate either.
	RespondToPermission(requestID, optionID string) error

	// Close ends the logical session. The underlying transport stays
	// open for further sessions from the same provider.
	Close() error
}

// Provider creates and loads sessions over one transport.
//
// A provider moves through the states unspawned, spawning, ready, closing,
// closed. Sessions may only be created or loaded while ready; the
// subprocess-backed variant reaches ready lazily on first use.
type Provider interface {
	// CreateSession starts a fresh session rooted at workDir.
	CreateSession(ctx context.Context, workDir string, opts Options) (Session, error)

	// LoadSession resumes a prior session by id. Providers whose agent
	// lacks resume capability fall back to CreateSession: the caller
	// cares about a usable session, not strict resumption.
	LoadSession(ctx context.Context, sessionID, workDir string, opts Options) (Session, error)

	// SupportsSessionLoading reports whether the agent can resume
	// sessions. Capabilities are discovered from the live agent, not
	// assumed statically, so this fails with ErrNotSpawned until the
	// agent has been spawned.
	SupportsSessionLoading() (bool, error)

	// Close tears down the transport: the subprocess variant kills its
	// agent process, the networked variant ends the connection. Session
	// creation fails afterwards.
	Close() error
}

// State identifies where a provider is in its lifecycle.
type State string

const (
	// StateUnspawned means the transport has not been established.
	StateUnspawned State = "unspawned"

	// StateSpawning means transport establishment is in progress.
	StateSpawning State = "spawning"

	// StateReady means sessions may be created and loaded.
	StateReady State = "ready"

	// StateClosing means Close has begun tearing the transport down.
	StateClosing State = "closing"

	// StateClosed means the provider is finished; all operations fail.
	StateClosed State = "closed"
)
