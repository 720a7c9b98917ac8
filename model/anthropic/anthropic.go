// Package anthropic adapts Anthropic's Claude API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/conductor-go/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-sonnet-4-5-20250929"

const maxTokens = 4096

// ChatModel implements model.ChatModel against the Anthropic Messages API.
//
// Anthropic expects the system prompt as a separate request parameter rather
// than an in-band message, so system messages are extracted before the call.
// The underlying SDK client is safe for concurrent use.
//
// Example:
//
//	backend := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := backend.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "summarize this diff"},
//	}, nil)
type ChatModel struct {
	client    *anthropic.Client
	modelName string
}

// New creates a ChatModel for the given API key. An empty modelName selects
// DefaultModel.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{client: &client, modelName: modelName}
}

// Name returns "anthropic".
func (m *ChatModel) Name() string { return "anthropic" }

// Chat implements model.ChatModel.
//
// Tool specifications are not forwarded to the API by this adapter; tool_use
// blocks the model emits are still surfaced as ToolCalls.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	systemPrompt, conversation := splitSystemPrompt(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(conversation),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic chat: %w", err)
	}

	out := model.ChatOut{
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			call := model.ToolCall{ID: block.ID, Name: block.Name}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &call.Input)
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	return out, nil
}

// splitSystemPrompt separates system messages from the conversation,
// concatenating multiple system messages in order.
func splitSystemPrompt(messages []model.Message) (string, []model.Message) {
	var system string
	var conversation []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return system, conversation
}

func toAnthropicMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}
