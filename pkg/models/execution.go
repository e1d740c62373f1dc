package models

import "time"

// ExecutionMode is the kind of run a FlowExecution represents.
type ExecutionMode string

const (
	ExecutionModeCampaign ExecutionMode = "campaign"
)

// ExecutionStatus is the lifecycle state of a FlowExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition can leave the status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCancelled || s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// IsActive reports whether the execution still owns live contacts.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusRunning || s == ExecutionStatusPaused
}

// FlowExecution is one campaign run of a flow against a set of contacts.
type FlowExecution struct {
	ID             string          `json:"id"`
	FlowID         string          `json:"flow_id"`
	Mode           ExecutionMode   `json:"mode"`
	Status         ExecutionStatus `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TotalContacts  int             `json:"total_contacts"`
	Variables      map[string]any  `json:"variables,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
