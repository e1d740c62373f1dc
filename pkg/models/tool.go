package models

import "time"

// AITool is a webhook capability usable by agent nodes.
type AITool struct {
	ID          string            `json:"id"           validate:"required"`
	Name        string            `json:"name"         validate:"required,min=1"`
	Description string            `json:"description"`
	WebhookURL  string            `json:"webhook_url"  validate:"required,url"`
	Headers     map[string]string `json:"headers,omitempty"`
	InputSchema map[string]any    `json:"input_schema,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ToolExecutionStatus is the state of one tool call.
type ToolExecutionStatus string

const (
	ToolExecutionPending   ToolExecutionStatus = "pending"
	ToolExecutionSucceeded ToolExecutionStatus = "succeeded"
	ToolExecutionFailed    ToolExecutionStatus = "failed"
)

// ToolExecution records one webhook call made on behalf of an agent node.
type ToolExecution struct {
	ID string `json:"id"`
	// Key identifies the invocation across retries of the same node step.
	Key             string              `json:"key"`
	ToolID          string              `json:"tool_id"`
	NodeExecutionID string              `json:"node_execution_id"`
	Request         map[string]any      `json:"request,omitempty"`
	Response        map[string]any      `json:"response,omitempty"`
	StatusCode      int                 `json:"status_code,omitempty"`
	Status          ToolExecutionStatus `json:"status"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
}
