package session

// UpdateKind tags the variant of an Update.
type UpdateKind string

const (
	// UpdateMessageChunk carries a fragment of agent message text.
	UpdateMessageChunk UpdateKind = "message_chunk"

	// UpdateToolCallStart announces a tool invocation beginning.
	UpdateToolCallStart UpdateKind = "tool_call_start"

	// UpdateToolCallProgress carries incremental tool call state.
	UpdateToolCallProgress UpdateKind = "tool_call_progress"

	// UpdateToolCallEnd announces a tool invocation finishing.
	UpdateToolCallEnd UpdateKind = "tool_call_end"

	// UpdatePlan carries the agent's current plan/todo list.
	UpdatePlan UpdateKind = "plan"

	// UpdatePermissionRequest asks the caller to authorize an action.
	// Answer via Session.RespondToPermission.
	UpdatePermissionRequest UpdateKind = "permission_request"

	// UpdateTurnEnd is the final update of every prompt stream.
	UpdateTurnEnd UpdateKind = "turn_end"
)

// Update is one event in a prompt's update stream. Kind selects which of
// the payload fields is meaningful.
type Update struct {
	// Kind is the update variant.
	Kind UpdateKind

	// SessionID names the session the update belongs to.
	SessionID string

	// Text is the message fragment for UpdateMessageChunk.
	Text string

	// ToolCall is set for the tool call kinds.
	ToolCall *ToolCallUpdate

	// Plan is set for UpdatePlan.
	Plan []PlanEntry

	// Permission is set for UpdatePermissionRequest.
	Permission *PermissionRequest

	// StopReason is set for UpdateTurnEnd: "end_turn", "cancelled",
	// "error", or an agent-specific reason.
	StopReason string
}

// ToolCallStatus describes where a tool invocation is in its lifecycle.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// ToolCallUpdate describes one tool invocation by the agent.
type ToolCallUpdate struct {
	// ID identifies the invocation across its start/progress/end updates.
	ID string

	// Name is the tool being invoked.
	Name string

	// Status is the invocation's current lifecycle position.
	Status ToolCallStatus

	// Detail is free-form progress or result text.
	Detail string
}

// PlanEntry is one item of the agent's reported plan.
type PlanEntry struct {
	// Title describes the planned step.
	Title string

	// Status is "pending", "in_progress", or "completed".
	Status string
}

// PermissionRequest is an agent-initiated mid-turn request for caller
// authorization.
type PermissionRequest struct {
	// ID is the request identifier to echo back in RespondToPermission.
	ID string

	// ToolCallID links the request to the tool call awaiting approval,
	// when there is one.
	ToolCallID string

	// Title describes what the agent wants to do.
	Title string

	// Options are the answers the caller may choose from.
	Options []PermissionOption
}

// PermissionOption is one selectable answer to a permission request.
type PermissionOption struct {
	// ID is the option identifier to pass to RespondToPermission.
	ID string

	// Label is the human-readable option text.
	Label string

	// Kind hints at the option's effect: "allow_once", "allow_always",
	// "reject_once", "reject_always".
	Kind string
}
