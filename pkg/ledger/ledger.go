// Package ledger is the append-only record of node executions. A succeeded entry
// for a visit is what makes redelivered batches skip re-executing the node.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/google/uuid"
)

var ErrWaitingNotRecorded = errors.New("waiting results are not recorded in the ledger")

type Ledger struct {
	repo persistence.NodeExecutionRepository
	now  func() time.Time
}

func New(repo persistence.NodeExecutionRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Entry is the input of one Record call.
type Entry struct {
	// ID may be assigned ahead of execution so tool calls can reference it.
	ID        string
	Key       persistence.LedgerKey
	NodeKind  models.NodeKind
	Input     map[string]any
	Result    models.NodeResult
	StartedAt time.Time
}

// Lookup returns the succeeded entry recorded for key, if any.
func (l *Ledger) Lookup(ctx context.Context, key persistence.LedgerKey) (*models.NodeExecution, bool, error) {
	entry, err := l.repo.FindSucceeded(ctx, key)
	if err != nil {
		if persistence.IsNodeExecutionNotFound(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("ledger lookup failed: %w", err)
	}

	return entry, true, nil
}

// Record appends the outcome of a node execution. Completed and branched results
// are recorded as succeeded, failed results as failed.
func (l *Ledger) Record(ctx context.Context, entry Entry) (*models.NodeExecution, error) {
	var status models.NodeExecutionStatus

	switch entry.Result.Kind {
	case models.ResultCompleted, models.ResultBranched:
		status = models.NodeExecutionSucceeded
	case models.ResultFailed:
		status = models.NodeExecutionFailed
	case models.ResultWaiting:
		return nil, ErrWaitingNotRecorded
	default:
		return nil, fmt.Errorf("unknown result kind '%s'", entry.Result.Kind)
	}

	nodeExecution, err := l.newEntry(ctx, entry.ID, entry.Key, entry.NodeKind, status, entry.StartedAt)
	if err != nil {
		return nil, err
	}

	nodeExecution.Branch = entry.Result.Branch
	nodeExecution.Input = entry.Input
	nodeExecution.Output = entry.Result.Output
	nodeExecution.ErrorMessage = entry.Result.Error

	return nodeExecution, l.append(ctx, nodeExecution)
}

// RecordSkipped notes that a contact did not run a node, with the reason.
func (l *Ledger) RecordSkipped(
	ctx context.Context,
	key persistence.LedgerKey,
	kind models.NodeKind,
	reason string,
) (*models.NodeExecution, error) {
	nodeExecution, err := l.newEntry(ctx, "", key, kind, models.NodeExecutionSkipped, l.now())
	if err != nil {
		return nil, err
	}

	nodeExecution.ErrorMessage = reason

	return nodeExecution, l.append(ctx, nodeExecution)
}

// Outputs returns the outputs of every node the contact completed, keyed by node
// id. Later visits of the same node win.
func (l *Ledger) Outputs(ctx context.Context, executionID, contactID string) (map[string]map[string]any, error) {
	entries, err := l.repo.ListByContact(ctx, executionID, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact history: %w", err)
	}

	outputs := make(map[string]map[string]any)
	steps := make(map[string]int)

	for _, entry := range entries {
		if entry.Status != models.NodeExecutionSucceeded {
			continue
		}

		if step, seen := steps[entry.NodeID]; seen && step > entry.Step {
			continue
		}

		steps[entry.NodeID] = entry.Step
		outputs[entry.NodeID] = entry.Output
	}

	return outputs, nil
}

func (l *Ledger) History(ctx context.Context, executionID, contactID string) ([]*models.NodeExecution, error) {
	return l.repo.ListByContact(ctx, executionID, contactID)
}

func (l *Ledger) List(ctx context.Context, filter models.NodeExecutionFilter) ([]*models.NodeExecution, int, error) {
	return l.repo.List(ctx, filter)
}

func (l *Ledger) newEntry(
	ctx context.Context,
	id string,
	key persistence.LedgerKey,
	kind models.NodeKind,
	status models.NodeExecutionStatus,
	startedAt time.Time,
) (*models.NodeExecution, error) {
	if id == "" {
		id = uuid.New().String()
	}

	attempts, err := l.repo.CountAttempts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	return &models.NodeExecution{
		ID:          id,
		ExecutionID: key.ExecutionID,
		ContactID:   key.ContactID,
		NodeID:      key.NodeID,
		NodeKind:    kind,
		Step:        key.Step,
		Attempt:     attempts + 1,
		Status:      status,
		StartedAt:   startedAt.UTC(),
		EndedAt:     l.now().UTC(),
	}, nil
}

func (l *Ledger) append(ctx context.Context, nodeExecution *models.NodeExecution) error {
	if err := l.repo.Append(ctx, nodeExecution); err != nil {
		return fmt.Errorf("failed to append node execution: %w", err)
	}

	return nil
}
