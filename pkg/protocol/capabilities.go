package protocol

import (
	"context"

	"github.com/dukex/courier/pkg/models"
)

// MessageKind is the shape of an outbound message.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageMenu  MessageKind = "menu"
	MessageImage MessageKind = "image"
	MessageVideo MessageKind = "video"
)

// Choice is one option of a menu message.
type Choice struct {
	Label string `json:"label"`
	Title string `json:"title"`
}

// OutboundMessage is sent to a contact through a Messenger.
type OutboundMessage struct {
	ContactID string      `json:"contact_id"`
	Phone     string      `json:"phone,omitempty"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	Choices   []Choice    `json:"choices,omitempty"`
	MediaURL  string      `json:"media_url,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	// DedupeKey identifies the send across redeliveries of the same node visit.
	DedupeKey string `json:"dedupe_key"`
}

// Messenger delivers messages to contacts.
type Messenger interface {
	Send(ctx context.Context, message OutboundMessage) (string, error)
}

// ModelMessage is one turn in a model conversation.
type ModelMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model's request to run a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition advertises a tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ModelRequest asks the model for the next turn.
type ModelRequest struct {
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Messages     []ModelMessage   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// ModelResponse is the model's turn: text, tool calls, or both.
type ModelResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Model generates agent turns.
type Model interface {
	Generate(ctx context.Context, request ModelRequest) (ModelResponse, error)
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	Execution *models.ToolExecution
	Response  map[string]any
	// Replayed is true when a previous succeeded call with the same key was reused.
	Replayed bool
}

// ToolInvoker runs webhook tools for one agent node visit.
type ToolInvoker interface {
	Tools(ctx context.Context, ids []string) ([]*models.AITool, error)
	Invoke(ctx context.Context, tool *models.AITool, payload map[string]any, callIndex int) (*ToolResult, error)
}
