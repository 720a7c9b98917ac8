// Package openai adapts OpenAI's chat completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/conductor-go/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gpt-4o"

// ChatModel implements model.ChatModel against OpenAI chat completions. The
// underlying client handles concurrency internally; a ChatModel may be shared
// across sessions.
type ChatModel struct {
	client    *openai.Client
	modelName string
}

// New creates a ChatModel for the given API key. An empty modelName selects
// DefaultModel. The key must be non-empty; OpenAI has no ambient credential
// fallback here.
func New(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{client: &client, modelName: modelName}, nil
}

// Name returns "openai".
func (m *ChatModel) Name() string { return "openai" }

// Chat implements model.ChatModel.
//
// Tool specifications are not forwarded to the API by this adapter.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: toOpenAIMessages(messages),
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai chat: empty choices in response")
	}

	return model.ChatOut{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
