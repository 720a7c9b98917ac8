// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/conductor-go/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel against the Gemini API.
//
// Unlike the other adapters, ChatModel owns a network client that must be
// released with Close when the provider shuts down.
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// New creates a ChatModel. An empty apiKey falls back to the GOOGLE_API_KEY
// environment variable; an empty modelName selects DefaultModel.
func New(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("google: API key not provided and GOOGLE_API_KEY not set")
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &ChatModel{client: client, modelName: modelName}, nil
}

// Name returns "google".
func (m *ChatModel) Name() string { return "google" }

// Close releases the underlying client connection.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements model.ChatModel.
//
// The conversation is replayed as Gemini chat history; system messages map
// to the model's system instruction. Tool specifications are not forwarded.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	gm := m.client.GenerativeModel(m.modelName)

	var history []*genai.Content
	var lastUser string
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
		case model.RoleAssistant:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		default:
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
			lastUser = msg.Content
		}
	}

	// Gemini's chat API takes the final user turn as the message and the
	// prior turns as history.
	if len(history) > 0 {
		last := history[len(history)-1]
		if last.Role == "user" {
			history = history[:len(history)-1]
		}
	}

	cs := gm.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(lastUser))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google chat: %w", err)
	}

	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.Text += string(text)
			}
		}
		break
	}
	return out, nil
}
