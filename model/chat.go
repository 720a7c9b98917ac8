// Package model provides agent backend adapters for networked sessions.
//
// A ChatModel is the narrow contract a networked session provider needs from
// a remote agent service: send a conversation, get back text and tool calls.
// Adapters for Anthropic, OpenAI, and Google live in subpackages; MockChatModel
// supports tests.
package model

import "context"

// ChatModel is the interface a remote agent backend implements.
//
// Implementations handle provider-specific authentication, translate the
// common Message format to the provider's wire format, and respect context
// cancellation. They must be safe for concurrent use.
type ChatModel interface {
	// Chat sends the conversation to the backend and returns its reply.
	//
	// The backend may answer with text, tool calls, or both. Errors cover
	// authentication failures, rate limits, network faults, and context
	// cancellation; callers treat them as session protocol errors.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is a single turn in an agent conversation. The role/content shape
// follows the convention shared by the major providers.
type Message struct {
	// Role identifies the sender: one of the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// Standard conversation roles.
const (
	// RoleSystem sets agent context or behavioral instructions. System
	// messages conventionally appear first.
	RoleSystem = "system"

	// RoleUser carries caller input.
	RoleUser = "user"

	// RoleAssistant carries agent responses.
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the agent may call. Schema follows JSON Schema
// and describes the expected input parameters; it is optional for tools
// without parameters.
type ToolSpec struct {
	// Name uniquely identifies the tool. Alphanumeric plus underscores.
	Name string

	// Description tells the agent what the tool does and when to use it.
	Description string

	// Schema is the JSON Schema of the tool input.
	Schema map[string]interface{}
}

// ToolCall is an agent request to invoke a tool with the given input.
type ToolCall struct {
	// ID is the provider-assigned call identifier, when one exists.
	ID string

	// Name is the tool to invoke.
	Name string

	// Input holds the arguments, decoded from the provider's JSON.
	Input map[string]interface{}
}

// ChatOut is the agent's reply to one Chat call: generated text, requested
// tool calls, or both.
type ChatOut struct {
	// Text is the generated response. May be empty when the agent only
	// requests tool calls.
	Text string

	// ToolCalls lists tools the agent wants invoked.
	ToolCalls []ToolCall

	// TokensUsed is the total token count the provider reported, zero if
	// unavailable.
	TokensUsed int
}
