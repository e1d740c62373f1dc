// Package persistence provides the data storage abstraction layer for flows, executions and their ledgers.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/courier/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	ContactRepository() ContactRepository
	ExecutionRepository() ExecutionRepository
	CursorRepository() CursorRepository
	NodeExecutionRepository() NodeExecutionRepository
	ToolRepository() ToolRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores authored flow graphs.
type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	// GetByID returns ErrFlowNotFound when no flow has the id.
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	GetAll(ctx context.Context) ([]*models.Flow, error)
}

// ContactRepository is a read view over the contact store.
type ContactRepository interface {
	Save(ctx context.Context, contact *models.Contact) error
	// GetByIDs returns the contacts found, keyed by id. Unknown ids are absent.
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Contact, error)
}

// ExecutionRepository stores FlowExecution records.
type ExecutionRepository interface {
	// Create returns ErrExecutionAlreadyExists when the id or the (flow, idempotency key) pair is taken.
	Create(ctx context.Context, execution *models.FlowExecution) error
	GetByID(ctx context.Context, id string) (*models.FlowExecution, error)
	GetByIdempotencyKey(ctx context.Context, flowID, key string) (*models.FlowExecution, error)
	// UpdateStatus moves the execution to status only if its current status is one of from.
	// It returns ErrStatusConflict (wrapped) otherwise.
	UpdateStatus(ctx context.Context, change StatusChange) (*models.FlowExecution, error)
	ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.FlowExecution, error)
}

// StatusChange describes a conditional execution status update.
type StatusChange struct {
	ExecutionID  string
	From         []models.ExecutionStatus
	To           models.ExecutionStatus
	ErrorMessage string
	At           time.Time
}

// CursorRepository stores per-contact positions.
type CursorRepository interface {
	// CreateMany inserts cursors, leaving existing (execution, contact) pairs untouched.
	CreateMany(ctx context.Context, cursors []*models.ContactCursor) error
	Get(ctx context.Context, executionID, contactID string) (*models.ContactCursor, error)
	GetMany(ctx context.Context, executionID string, contactIDs []string) ([]*models.ContactCursor, error)
	// Update writes cursor only if the stored version equals cursor.Version. On success
	// cursor.Version is incremented. A stale version yields ErrCursorConflict.
	Update(ctx context.Context, cursor *models.ContactCursor) error
	List(ctx context.Context, executionID string, statuses ...models.CursorStatus) ([]*models.ContactCursor, error)
	CountByStatus(ctx context.Context, executionID string) (map[models.CursorStatus]int, error)
}

// NodeExecutionRepository is the append-only ledger.
type NodeExecutionRepository interface {
	Append(ctx context.Context, nodeExecution *models.NodeExecution) error
	// FindSucceeded returns ErrNodeExecutionNotFound when no succeeded entry exists for the key.
	FindSucceeded(ctx context.Context, key LedgerKey) (*models.NodeExecution, error)
	CountAttempts(ctx context.Context, key LedgerKey) (int, error)
	ListByContact(ctx context.Context, executionID, contactID string) ([]*models.NodeExecution, error)
	List(ctx context.Context, filter models.NodeExecutionFilter) ([]*models.NodeExecution, int, error)
}

// LedgerKey identifies one visit of a contact to a node within an execution.
type LedgerKey struct {
	ExecutionID string
	ContactID   string
	NodeID      string
	Step        int
}

// ToolRepository stores tool definitions and their invocation records.
type ToolRepository interface {
	SaveTool(ctx context.Context, tool *models.AITool) error
	GetTool(ctx context.Context, id string) (*models.AITool, error)
	// SaveToolExecution upserts by ToolExecution.Key.
	SaveToolExecution(ctx context.Context, toolExecution *models.ToolExecution) error
	GetToolExecutionByKey(ctx context.Context, key string) (*models.ToolExecution, error)
}
