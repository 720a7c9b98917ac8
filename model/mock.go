package model

import (
	"context"
	"sync"
)

// MockChatModel is a scriptable ChatModel for tests: configurable responses,
// error injection, and call history, all thread-safe.
//
// Example:
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{{Text: "first"}, {Text: "second"}},
//	}
//
// Each Chat call returns the next response; once consumed, the last response
// repeats.
type MockChatModel struct {
	// Responses is the sequence of replies to return in order.
	Responses []ChatOut

	// Err, when set, is returned by Chat instead of a response.
	Err error

	// Calls records every Chat invocation for assertion.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records one Chat invocation.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel. The call is recorded even when Err is set.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	out := m.Responses[m.callIndex]
	if m.callIndex < len(m.Responses)-1 {
		m.callIndex++
	}
	return out, nil
}

// CallCount returns how many times Chat has been invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
