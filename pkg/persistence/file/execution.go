package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

func keyFileName(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:]) + ".json"
}

// ExecutionRepository handles flow execution file operations.
type ExecutionRepository struct {
	store *store
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.FlowExecution) error {
	if err := validateID("execution", execution.ID); err != nil {
		return err
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	var existing models.FlowExecution

	err := er.store.read(er.executionPath(execution.ID), &existing)
	if err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if !errors.Is(err, errNotExist) {
		return err
	}

	if execution.IdempotencyKey != "" {
		found, err := er.findByKey(execution.FlowID, execution.IdempotencyKey)
		if err != nil {
			return err
		}

		if found != nil {
			return &persistence.ExecutionError{
				Op:          "Create",
				ExecutionID: found.ID,
				Err:         persistence.ErrExecutionAlreadyExists,
				Message:     "idempotency key already used",
			}
		}
	}

	return er.store.write(er.executionPath(execution.ID), execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.FlowExecution, error) {
	if err := validateID("execution", id); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.get(id)
}

func (er *ExecutionRepository) GetByIdempotencyKey(_ context.Context, flowID, key string) (*models.FlowExecution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	execution, err := er.findByKey(flowID, key)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution, nil
}

func (er *ExecutionRepository) UpdateStatus(_ context.Context, change persistence.StatusChange) (*models.FlowExecution, error) {
	if err := validateID("execution", change.ExecutionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	execution, err := er.get(change.ExecutionID)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(change.From, execution.Status) {
		return execution, &persistence.ExecutionError{
			Op:          "UpdateStatus",
			ExecutionID: change.ExecutionID,
			Err:         persistence.ErrStatusConflict,
			Message:     fmt.Sprintf("status is %s", execution.Status),
		}
	}

	applyStatusChange(execution, change)

	err = er.store.write(er.executionPath(execution.ID), execution)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByStatus(_ context.Context, statuses ...models.ExecutionStatus) ([]*models.FlowExecution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions := make([]*models.FlowExecution, 0)

	err := er.store.readDir(er.store.path("executions"), func(path string) error {
		var execution models.FlowExecution
		if err := er.store.read(path, &execution); err != nil {
			return err
		}

		if len(statuses) == 0 || slices.Contains(statuses, execution.Status) {
			executions = append(executions, &execution)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) executionPath(id string) string {
	return er.store.path("executions", id+".json")
}

func (er *ExecutionRepository) get(id string) (*models.FlowExecution, error) {
	var execution models.FlowExecution

	err := er.store.read(er.executionPath(id), &execution)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (er *ExecutionRepository) findByKey(flowID, key string) (*models.FlowExecution, error) {
	var found *models.FlowExecution

	err := er.store.readDir(er.store.path("executions"), func(path string) error {
		if found != nil {
			return nil
		}

		var execution models.FlowExecution
		if err := er.store.read(path, &execution); err != nil {
			return err
		}

		if execution.FlowID == flowID && execution.IdempotencyKey == key {
			found = &execution
		}

		return nil
	})

	return found, err
}

func applyStatusChange(execution *models.FlowExecution, change persistence.StatusChange) {
	execution.Status = change.To
	execution.UpdatedAt = change.At

	if change.ErrorMessage != "" {
		execution.ErrorMessage = change.ErrorMessage
	}

	if change.To == models.ExecutionStatusRunning && execution.StartedAt == nil {
		startedAt := change.At
		execution.StartedAt = &startedAt
	}

	if change.To.IsTerminal() {
		endedAt := change.At
		execution.EndedAt = &endedAt
	}
}
