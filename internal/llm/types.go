package llm

import (
	"context"
	"encoding/json"
)

// Message roles in OpenAI chat format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation in OpenAI chat format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON string as streamed
}

// ToolDef describes a callable tool advertised to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON schema
}

// ChatRequest is one streaming chat-completion call.
type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolDef
}

// StreamClient issues one streaming chat completion. Implementations emit
// ContentDelta and UsageReported events as they arrive and return the
// complete assistant message, including any accumulated tool calls.
type StreamClient interface {
	StreamChat(ctx context.Context, req ChatRequest, emit func(Event)) (Message, error)
}
