package stdio

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/dshills/conductor-go/session"
)

// stdioSession is one logical conversation multiplexed over the provider's
// agent process. At most one prompt turn is in flight at a time; updates
// arriving from the process goroutine are pushed into the turn's stream.
type stdioSession struct {
	id       string
	provider *Provider

	mu          sync.Mutex
	closed      bool
	stream      *session.UpdateStream
	permissions map[string]int64 // request id -> rpc id awaiting an answer
}

func newStdioSession(id string, provider *Provider) *stdioSession {
	return &stdioSession{
		id:          id,
		provider:    provider,
		permissions: make(map[string]int64),
	}
}

func (s *stdioSession) ID() string { return s.id }

// Prompt sends one turn. The returned stream is fed by agent update
// notifications and terminated when the agent's prompt response arrives.
func (s *stdioSession) Prompt(ctx context.Context, text string) (*session.UpdateStream, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, session.ErrSessionClosed
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil, session.ErrTurnInFlight
	}
	stream := session.NewUpdateStream(64)
	s.stream = stream
	s.mu.Unlock()

	go func() {
		params := sessionPromptParams{
			SessionID: s.id,
			Prompt:    []promptBlock{{Type: "text", Text: text}},
		}
		raw, err := c.call(ctx, "session/prompt", params)

		s.mu.Lock()
		if s.stream == stream {
			s.stream = nil
		}
		s.mu.Unlock()

		if err != nil {
			stream.Finish(err)
			return
		}
		var result sessionPromptResult
		if err := json.Unmarshal(raw, &result); err != nil {
			stream.Finish(err)
			return
		}
		stream.Send(context.Background(), session.Update{
			Kind:       session.UpdateTurnEnd,
			SessionID:  s.id,
			StopReason: result.StopReason,
		})
		stream.Finish(nil)
	}()

	return stream, nil
}

// Cancel notifies the agent to abandon the in-flight turn. The turn's
// stream still terminates through the prompt response, which reports a
// cancelled stop reason.
func (s *stdioSession) Cancel(ctx context.Context) error {
	s.mu.Lock()
	inFlight := s.stream != nil
	s.mu.Unlock()
	if !inFlight {
		return nil
	}
	c, err := s.conn()
	if err != nil {
		return err
	}
	return c.notify("session/cancel", sessionCancelParams{SessionID: s.id})
}

func (s *stdioSession) SetMode(mode session.Mode) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	_, err = c.call(context.Background(), "session/set_mode", sessionSetModeParams{
		SessionID: s.id,
		ModeID:    string(mode),
	})
	return err
}

// RespondToPermission answers a pending permission request by rpc response.
// The agent's turn stays blocked until this arrives.
func (s *stdioSession) RespondToPermission(requestID, optionID string) error {
	s.mu.Lock()
	rpcID, ok := s.permissions[requestID]
	if ok {
		delete(s.permissions, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return session.ErrUnknownPermission
	}

	c, err := s.conn()
	if err != nil {
		return err
	}
	var result permissionResult
	result.Outcome.Outcome = "selected"
	result.Outcome.OptionID = optionID
	return c.respond(rpcID, result)
}

// Close ends the logical session. The agent process stays up for other
// sessions from the same provider.
func (s *stdioSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Finish(session.ErrSessionClosed)
	}
	s.provider.unregister(s.id)
	return nil
}

// deliver pushes an agent update into the current turn's stream. Updates
// with no turn in flight are dropped.
func (s *stdioSession) deliver(u session.Update) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	stream.Send(context.Background(), u)
}

// deliverPermission surfaces an agent permission request as an update. The
// rpc id is remembered so RespondToPermission can answer it.
func (s *stdioSession) deliverPermission(rpcID int64, req permissionParams) {
	requestID := strconv.FormatInt(rpcID, 10)

	s.mu.Lock()
	s.permissions[requestID] = rpcID
	s.mu.Unlock()

	pr := &session.PermissionRequest{
		ID:         requestID,
		ToolCallID: req.ToolCall.ToolCallID,
		Title:      req.ToolCall.Title,
	}
	for _, opt := range req.Options {
		pr.Options = append(pr.Options, session.PermissionOption{
			ID:    opt.OptionID,
			Label: opt.Name,
			Kind:  opt.Kind,
		})
	}
	s.deliver(session.Update{
		Kind:       session.UpdatePermissionRequest,
		SessionID:  s.id,
		Permission: pr,
	})
}

// providerClosed tears the session down from the provider side.
func (s *stdioSession) providerClosed() {
	s.mu.Lock()
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Finish(session.ErrProviderClosed)
	}
}

func (s *stdioSession) conn() (*conn, error) {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	switch s.provider.state {
	case session.StateReady:
		return s.provider.conn, nil
	case session.StateClosing, session.StateClosed:
		return nil, session.ErrProviderClosed
	default:
		return nil, session.ErrNotSpawned
	}
}

var _ session.Session = (*stdioSession)(nil)
