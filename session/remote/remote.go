// Package remote implements sessions backed by a networked agent service
// rather than a local subprocess.
//
// The provider speaks to the service through a model.ChatModel adapter and
// keeps conversation history on this side of the wire, so session loading
// is always supported: resuming a session is replaying its retained history
// into the next Chat call.
package remote

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/conductor-go/model"
	"github.com/dshills/conductor-go/session"
)

// chunkSize bounds the size of each message-chunk update carved from a
// backend reply.
const chunkSize = 512

// planModePrompt steers the backend when the session is in plan mode.
const planModePrompt = "Plan the requested work step by step. Describe the changes you would make, but do not make any changes."

// Provider mints sessions against one backend model. Unlike the subprocess
// variant there is no process to spawn: the provider is ready from
// construction.
type Provider struct {
	backend model.ChatModel

	mu       sync.Mutex
	closed   bool
	sessions map[string]*remoteSession
	history  map[string][]model.Message // retained across session close for resumption
}

// NewProvider returns a ready provider over backend.
func NewProvider(backend model.ChatModel) *Provider {
	return &Provider{
		backend:  backend,
		sessions: make(map[string]*remoteSession),
		history:  make(map[string][]model.Message),
	}
}

// State reports the provider lifecycle position. A remote provider skips
// the spawn states entirely.
func (p *Provider) State() session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return session.StateClosed
	}
	return session.StateReady
}

// CreateSession opens a fresh conversation. workDir is recorded as context
// for the backend but no local process consults it.
func (p *Provider) CreateSession(ctx context.Context, workDir string, opts session.Options) (session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, session.ErrProviderClosed
	}

	s := newRemoteSession(uuid.NewString(), p, opts)
	p.sessions[s.id] = s
	return s, nil
}

// LoadSession resumes a conversation from retained history. An unknown id
// degrades to a fresh session with that id, matching the contract that
// loading favors a usable session over strict resumption.
func (p *Provider) LoadSession(ctx context.Context, sessionID, workDir string, opts session.Options) (session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, session.ErrProviderClosed
	}

	s := newRemoteSession(sessionID, p, opts)
	if past, ok := p.history[sessionID]; ok {
		s.history = append(s.history[:0:0], past...)
	}
	p.sessions[sessionID] = s
	return s, nil
}

// SupportsSessionLoading always reports true: history lives on this side,
// so there is no capability to discover.
func (p *Provider) SupportsSessionLoading() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, session.ErrProviderClosed
	}
	return true, nil
}

// Close ends the provider. In-flight turns are cancelled; retained history
// is discarded.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string]*remoteSession)
	p.history = make(map[string][]model.Message)
	p.mu.Unlock()

	for _, s := range sessions {
		s.providerClosed()
	}
	return nil
}

// retain stores a closed session's history for later LoadSession calls.
func (p *Provider) retain(id string, history []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	delete(p.sessions, id)
	p.history[id] = history
}

// remoteSession is one conversation against the backend. Each Prompt makes
// one Chat call; the reply is carved into message-chunk updates so the
// consumer sees the same stream shape as a subprocess session.
type remoteSession struct {
	id       string
	provider *Provider

	mu      sync.Mutex
	closed  bool
	mode    session.Mode
	system  string
	history []model.Message
	stream  *session.UpdateStream
	cancel  context.CancelFunc
}

func newRemoteSession(id string, p *Provider, opts session.Options) *remoteSession {
	mode := opts.Mode
	if mode == "" {
		mode = session.ModeCode
	}
	return &remoteSession{
		id:       id,
		provider: p,
		mode:     mode,
		system:   opts.SystemPrompt,
	}
}

func (s *remoteSession) ID() string { return s.id }

// Prompt runs one turn: the conversation so far plus text goes to the
// backend, and the reply streams back as chunks, tool call updates, and a
// terminal turn end.
func (s *remoteSession) Prompt(ctx context.Context, text string) (*session.UpdateStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, session.ErrSessionClosed
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil, session.ErrTurnInFlight
	}

	s.history = append(s.history, model.Message{Role: model.RoleUser, Content: text})
	messages := s.composeMessages()
	stream := session.NewUpdateStream(16)
	turnCtx, cancel := context.WithCancel(ctx)
	s.stream = stream
	s.cancel = cancel
	s.mu.Unlock()

	go s.runTurn(turnCtx, stream, messages)
	return stream, nil
}

func (s *remoteSession) runTurn(ctx context.Context, stream *session.UpdateStream, messages []model.Message) {
	out, err := s.provider.backend.Chat(ctx, messages, nil)

	s.mu.Lock()
	if s.stream == stream {
		s.stream = nil
		s.cancel = nil
	}
	if err == nil {
		s.history = append(s.history, model.Message{Role: model.RoleAssistant, Content: out.Text})
	}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled turns end cleanly rather than failing.
			stream.Send(context.Background(), session.Update{
				Kind:       session.UpdateTurnEnd,
				SessionID:  s.id,
				StopReason: "cancelled",
			})
			stream.Finish(nil)
			return
		}
		stream.Finish(err)
		return
	}

	bg := context.Background()
	for _, chunk := range splitChunks(out.Text, chunkSize) {
		if !stream.Send(bg, session.Update{
			Kind:      session.UpdateMessageChunk,
			SessionID: s.id,
			Text:      chunk,
		}) {
			return
		}
	}
	for _, tc := range out.ToolCalls {
		if !stream.Send(bg, session.Update{
			Kind:      session.UpdateToolCallStart,
			SessionID: s.id,
			ToolCall: &session.ToolCallUpdate{
				ID:     tc.ID,
				Name:   tc.Name,
				Status: session.ToolCallPending,
			},
		}) {
			return
		}
	}
	stream.Send(bg, session.Update{
		Kind:       session.UpdateTurnEnd,
		SessionID:  s.id,
		StopReason: "end_turn",
	})
	stream.Finish(nil)
}

// Cancel aborts the in-flight Chat call. No-op when no turn is running.
func (s *remoteSession) Cancel(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// SetMode takes effect on the next prompt; plan mode injects a planning
// instruction ahead of the conversation.
func (s *remoteSession) SetMode(mode session.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrSessionClosed
	}
	s.mode = mode
	return nil
}

// RespondToPermission is part of the Session contract, but a backend model
// has no side channel to raise permission requests on, so there is never a
// pending request to answer.
func (s *remoteSession) RespondToPermission(requestID, optionID string) error {
	return session.ErrUnknownPermission
}

// Close ends the session and hands its history back to the provider so a
// later LoadSession can resume it.
func (s *remoteSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	stream := s.stream
	s.stream = nil
	history := s.history
	s.mu.Unlock()

	if stream != nil {
		stream.Finish(session.ErrSessionClosed)
	}
	s.provider.retain(s.id, history)
	return nil
}

func (s *remoteSession) providerClosed() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Finish(session.ErrProviderClosed)
	}
}

// composeMessages builds the Chat payload: system context, mode
// instruction, then the conversation. Caller holds s.mu.
func (s *remoteSession) composeMessages() []model.Message {
	var out []model.Message
	if s.system != "" {
		out = append(out, model.Message{Role: model.RoleSystem, Content: s.system})
	}
	if s.mode == session.ModePlan {
		out = append(out, model.Message{Role: model.RoleSystem, Content: planModePrompt})
	}
	return append(out, s.history...)
}

// splitChunks carves text into pieces of at most size bytes, breaking on
// rune boundaries.
func splitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if b.Len() >= size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

var (
	_ session.Provider = (*Provider)(nil)
	_ session.Session  = (*remoteSession)(nil)
)
