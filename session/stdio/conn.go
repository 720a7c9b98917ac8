package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// errConnClosed reports a call attempted on, or interrupted by, a closed
// connection.
var errConnClosed = errors.New("stdio: connection closed")

// rpcEnvelope is the single wire shape for every frame. A frame with a
// method is a request (id set) or notification (id absent); a frame
// without a method is a response to one of our calls.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// inboundHandler receives agent-initiated traffic. id is nil for
// notifications; for requests the handler (or its continuation) must
// eventually answer via conn.respond.
type inboundHandler func(method string, id *int64, params json.RawMessage)

// conn multiplexes JSON-RPC 2.0 over a Transport. Outbound calls are
// correlated to responses by id; inbound requests and notifications are
// dispatched to the registered handler. Safe for concurrent use.
type conn struct {
	transport Transport
	nextID    atomic.Int64
	handler   inboundHandler

	mu      sync.Mutex
	pending map[int64]chan rpcEnvelope
	closed  bool
}

func newConn(transport Transport, handler inboundHandler) *conn {
	c := &conn{
		transport: transport,
		handler:   handler,
		pending:   make(map[int64]chan rpcEnvelope),
	}
	transport.OnReceive(c.receive)
	return c
}

// call issues a request and blocks for the matching response or context
// cancellation. A cancelled call leaves the agent's eventual answer to be
// discarded on arrival.
func (c *conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcEnvelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errConnClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(rpcEnvelope{JSONRPC: "2.0", ID: &id, Method: method}, params); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, errConnClosed
		}
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify issues a fire-and-forget notification.
func (c *conn) notify(method string, params any) error {
	return c.send(rpcEnvelope{JSONRPC: "2.0", Method: method}, params)
}

// respond answers an agent-initiated request.
func (c *conn) respond(id int64, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	env := rpcEnvelope{JSONRPC: "2.0", ID: &id, Result: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.transport.Send(data)
}

func (c *conn) send(env rpcEnvelope, params any) error {
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		env.Params = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.transport.Send(data)
}

// receive is the transport's inbound sink. Malformed frames are dropped;
// a broken agent should not take the whole provider down with it.
func (c *conn) receive(line []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return
	}

	if env.Method != "" {
		c.handler(env.Method, env.ID, env.Params)
		return
	}

	if env.ID == nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[*env.ID]
	if ok {
		delete(c.pending, *env.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

// close fails every pending call and closes the transport.
func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan rpcEnvelope)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	return c.transport.Close()
}
