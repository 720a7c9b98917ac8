package stdio

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/conductor-go/session"
)

// Wire shapes for the agent protocol's session-scoped payloads. Field
// names follow the agent side of the protocol, not this package's types.

type initializeParams struct {
	ProtocolVersion int `json:"protocolVersion"`
}

type initializeResult struct {
	ProtocolVersion   int `json:"protocolVersion"`
	AgentCapabilities struct {
		LoadSession bool `json:"loadSession"`
	} `json:"agentCapabilities"`
}

type sessionNewParams struct {
	Cwd          string `json:"cwd"`
	ModeID       string `json:"modeId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

type sessionNewResult struct {
	SessionID string `json:"sessionId"`
}

type sessionLoadParams struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

type sessionPromptParams struct {
	SessionID string        `json:"sessionId"`
	Prompt    []promptBlock `json:"prompt"`
}

type promptBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

type sessionCancelParams struct {
	SessionID string `json:"sessionId"`
}

type sessionSetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

type sessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type wireUpdate struct {
	Kind    string `json:"sessionUpdate"`
	Content *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Title      string `json:"title,omitempty"`
	ToolStatus string `json:"status,omitempty"`
	Entries    []struct {
		Content string `json:"content"`
		Status  string `json:"status"`
	} `json:"entries,omitempty"`
}

type permissionParams struct {
	SessionID string `json:"sessionId"`
	ToolCall  struct {
		ToolCallID string `json:"toolCallId"`
		Title      string `json:"title"`
	} `json:"toolCall"`
	Options []struct {
		OptionID string `json:"optionId"`
		Name     string `json:"name"`
		Kind     string `json:"kind"`
	} `json:"options"`
}

type permissionResult struct {
	Outcome struct {
		Outcome  string `json:"outcome"`
		OptionID string `json:"optionId,omitempty"`
	} `json:"outcome"`
}

// decodeUpdate maps one wire update to a session.Update. Unknown update
// kinds return an error and are dropped by the caller; the protocol is
// allowed to grow without breaking older clients.
func decodeUpdate(sessionID string, raw json.RawMessage) (session.Update, error) {
	var wu wireUpdate
	if err := json.Unmarshal(raw, &wu); err != nil {
		return session.Update{}, fmt.Errorf("decode update: %w", err)
	}

	u := session.Update{SessionID: sessionID}
	switch wu.Kind {
	case "agent_message_chunk":
		u.Kind = session.UpdateMessageChunk
		if wu.Content != nil {
			u.Text = wu.Content.Text
		}
	case "tool_call":
		u.Kind = session.UpdateToolCallStart
		u.ToolCall = &session.ToolCallUpdate{
			ID:     wu.ToolCallID,
			Name:   wu.Title,
			Status: toolStatus(wu.ToolStatus),
		}
	case "tool_call_update":
		u.Kind = session.UpdateToolCallProgress
		status := toolStatus(wu.ToolStatus)
		if status == session.ToolCallCompleted || status == session.ToolCallFailed {
			u.Kind = session.UpdateToolCallEnd
		}
		u.ToolCall = &session.ToolCallUpdate{
			ID:     wu.ToolCallID,
			Name:   wu.Title,
			Status: status,
		}
	case "plan":
		u.Kind = session.UpdatePlan
		for _, e := range wu.Entries {
			u.Plan = append(u.Plan, session.PlanEntry{Title: e.Content, Status: e.Status})
		}
	default:
		return session.Update{}, fmt.Errorf("unknown update kind %q", wu.Kind)
	}
	return u, nil
}

func toolStatus(s string) session.ToolCallStatus {
	switch s {
	case "in_progress":
		return session.ToolCallInProgress
	case "completed":
		return session.ToolCallCompleted
	case "failed":
		return session.ToolCallFailed
	default:
		return session.ToolCallPending
	}
}
