package session

import "errors"

// ErrNotSpawned is returned by SupportsSessionLoading before the agent has
// been spawned. Capabilities are discovered from the live agent; they are
// unknowable earlier, and callers must handle that state explicitly.
var ErrNotSpawned = errors.New("agent not spawned: capabilities unknown")

// ErrProviderClosed is returned when creating or loading a session against
// a closed provider.
var ErrProviderClosed = errors.New("session provider is closed")

// ErrSessionClosed is returned for operations on a closed session.
var ErrSessionClosed = errors.New("session is closed")

// ErrTurnInFlight is returned by Prompt while a previous turn's stream has
// not yet finished. Sessions conduct one turn at a time.
var ErrTurnInFlight = errors.New("a prompt turn is already in flight")

// ErrUnknownPermission is returned by RespondToPermission when the request
// id does not match an outstanding permission request.
var ErrUnknownPermission = errors.New("unknown permission request id")
