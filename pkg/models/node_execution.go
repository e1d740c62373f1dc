package models

import "time"

// NodeExecutionStatus is the outcome recorded in the ledger.
type NodeExecutionStatus string

const (
	NodeExecutionSucceeded NodeExecutionStatus = "succeeded"
	NodeExecutionFailed    NodeExecutionStatus = "failed"
	NodeExecutionSkipped   NodeExecutionStatus = "skipped"
)

// NodeExecution is an immutable ledger record of one attempt to run a node for a contact.
type NodeExecution struct {
	ID          string              `json:"id"`
	ExecutionID string              `json:"execution_id"`
	ContactID   string              `json:"contact_id"`
	NodeID      string              `json:"node_id"`
	NodeKind    NodeKind            `json:"node_kind"`
	Step        int                 `json:"step"`
	Attempt     int                 `json:"attempt"`
	Status      NodeExecutionStatus `json:"status"`
	// Branch is the edge label chosen by the node, replayed on duplicate delivery.
	Branch       string         `json:"branch,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
}

// NodeExecutionFilter selects ledger entries for listing.
type NodeExecutionFilter struct {
	ExecutionID string
	ContactID   string
	Status      NodeExecutionStatus
	Limit       int
	Offset      int
}
