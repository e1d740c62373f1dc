package services

import (
	"context"
	"strings"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/ledger"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

const (
	defaultNodeExecutionLimit = 50
	maxNodeExecutionLimit     = 500
)

// Orchestrator is the campaign control surface the execution service drives.
type Orchestrator interface {
	StartCampaignExecution(ctx context.Context, req campaign.StartRequest) (*campaign.StartResult, error)
	Pause(ctx context.Context, executionID string) (*models.FlowExecution, error)
	Resume(ctx context.Context, executionID string) (*models.FlowExecution, error)
	Cancel(ctx context.Context, executionID string) (*models.FlowExecution, error)
	Status(ctx context.Context, executionID string) (*models.FlowExecution, map[models.CursorStatus]int, error)
	SubmitReply(ctx context.Context, executionID, contactID, text string) error
}

type Execution struct {
	orchestrator Orchestrator
	ledger       *ledger.Ledger
}

func NewExecution(orchestrator Orchestrator, persistence persistence.Persistence) *Execution {
	return &Execution{
		orchestrator: orchestrator,
		ledger:       ledger.New(persistence.NodeExecutionRepository()),
	}
}

// StartExecutionRequest contains what a caller supplies to start a campaign.
type StartExecutionRequest struct {
	FlowID         string
	ContactIDs     []string
	IdempotencyKey string
	Variables      map[string]any
	BatchSize      int
}

// StatusResponse is an execution with its contacts counted per cursor status.
type StatusResponse struct {
	Execution *models.FlowExecution        `json:"execution"`
	Contacts  map[models.CursorStatus]int `json:"contacts"`
}

// NodeExecutionsResponse is one page of ledger entries.
type NodeExecutionsResponse struct {
	NodeExecutions []*models.NodeExecution `json:"node_executions"`
	TotalCount     int                     `json:"total_count"`
	HasNextPage    bool                    `json:"has_next_page"`
}

// Start begins a campaign run. A repeated idempotency key returns the run it
// started the first time.
func (e *Execution) Start(ctx context.Context, req StartExecutionRequest) (*campaign.StartResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	if len(req.ContactIDs) == 0 {
		return nil, ErrContactIDsRequired
	}

	if req.BatchSize < 0 {
		return nil, NewValidationError("Start", "INVALID_BATCH_SIZE", "batch_size must not be negative", ErrInvalidRequest)
	}

	return e.orchestrator.StartCampaignExecution(ctx, campaign.StartRequest{
		FlowID:         req.FlowID,
		ContactIDs:     req.ContactIDs,
		IdempotencyKey: req.IdempotencyKey,
		Variables:      req.Variables,
		BatchSize:      req.BatchSize,
	})
}

func (e *Execution) Status(ctx context.Context, executionID string) (*StatusResponse, error) {
	current, counts, err := e.orchestrator.Status(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &StatusResponse{Execution: current, Contacts: counts}, nil
}

func (e *Execution) Pause(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	return e.orchestrator.Pause(ctx, executionID)
}

func (e *Execution) Resume(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	return e.orchestrator.Resume(ctx, executionID)
}

func (e *Execution) Cancel(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	return e.orchestrator.Cancel(ctx, executionID)
}

func (e *Execution) Reply(ctx context.Context, executionID, contactID, text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("Reply", "EMPTY_REPLY", "reply text is required", ErrInvalidRequest)
	}

	return e.orchestrator.SubmitReply(ctx, executionID, contactID, text)
}

// NodeExecutions lists the ledger of an execution, newest visits last.
func (e *Execution) NodeExecutions(ctx context.Context, filter models.NodeExecutionFilter) (*NodeExecutionsResponse, error) {
	if _, _, err := e.orchestrator.Status(ctx, filter.ExecutionID); err != nil {
		return nil, err
	}

	if err := validateNodeExecutionFilter(&filter); err != nil {
		return nil, err
	}

	entries, total, err := e.ledger.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &NodeExecutionsResponse{
		NodeExecutions: entries,
		TotalCount:     total,
		HasNextPage:    filter.Offset+len(entries) < total,
	}, nil
}

func validateNodeExecutionFilter(filter *models.NodeExecutionFilter) error {
	if filter.Limit <= 0 {
		filter.Limit = defaultNodeExecutionLimit
	}

	if filter.Limit > maxNodeExecutionLimit {
		filter.Limit = maxNodeExecutionLimit
	}

	if filter.Offset < 0 {
		filter.Offset = 0
	}

	switch filter.Status {
	case "", models.NodeExecutionSucceeded, models.NodeExecutionFailed, models.NodeExecutionSkipped:
		return nil
	default:
		return NewValidationError(
			"NodeExecutions",
			"INVALID_STATUS",
			"invalid status '"+string(filter.Status)+"', allowed: succeeded, failed, skipped",
			ErrInvalidNodeExecutionQuery,
		)
	}
}
