package web

import "github.com/dukex/courier/pkg/models"

// IdempotencyKeyHeader carries the caller's key for starting an execution.
const IdempotencyKeyHeader = "Idempotency-Key"

// SaveFlowRequest represents the request body for creating or replacing a flow.
type SaveFlowRequest struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"                validate:"required,min=1"`
	Nodes     []*models.Node `json:"nodes"               validate:"required,min=1"`
	Edges     []*models.Edge `json:"edges"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Flow converts the request into a flow model.
func (r SaveFlowRequest) Flow() *models.Flow {
	return &models.Flow{
		ID:        r.ID,
		Name:      r.Name,
		Nodes:     r.Nodes,
		Edges:     r.Edges,
		Variables: r.Variables,
	}
}

// StartExecutionRequest represents the request body for starting a campaign.
// The idempotency key travels in the Idempotency-Key header.
type StartExecutionRequest struct {
	ContactIDs []string       `json:"contact_ids"          validate:"required,min=1,dive,required"`
	Variables  map[string]any `json:"variables,omitempty"`
	BatchSize  int            `json:"batch_size,omitempty" validate:"min=0,max=10000"`
}

// ReplyRequest represents a contact's answer to a menu or input node.
type ReplyRequest struct {
	Text string `json:"text" validate:"required"`
}

// SaveContactsRequest represents the request body for upserting contacts.
type SaveContactsRequest struct {
	Contacts []*models.Contact `json:"contacts" validate:"required,min=1"`
}

// SaveToolRequest represents the request body for registering an agent tool.
type SaveToolRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"                   validate:"required,min=1"`
	Description string            `json:"description"`
	WebhookURL  string            `json:"webhook_url"            validate:"required,url"`
	Headers     map[string]string `json:"headers,omitempty"`
	InputSchema map[string]any    `json:"input_schema,omitempty"`
}

// Tool converts the request into a tool model.
func (r SaveToolRequest) Tool() *models.AITool {
	return &models.AITool{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		WebhookURL:  r.WebhookURL,
		Headers:     r.Headers,
		InputSchema: r.InputSchema,
	}
}

// NodeKindResponse describes one registered node kind.
type NodeKindResponse struct {
	Kind        models.NodeKind `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}
