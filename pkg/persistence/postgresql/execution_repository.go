package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const executionColumns = `
	id, flow_id, mode, status, idempotency_key, total_contacts, variables,
	error_message, created_at, started_at, ended_at, updated_at
`

// ExecutionRepository handles flow execution database operations.
type ExecutionRepository struct {
	db *sql.DB
}

func (er *ExecutionRepository) Create(ctx context.Context, execution *models.FlowExecution) error {
	variablesJSON, err := sqlbase.MarshalJSON(execution.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = er.db.ExecContext(ctx, query,
		execution.ID, execution.FlowID, execution.Mode, execution.Status, execution.IdempotencyKey,
		execution.TotalContacts, variablesJSON, execution.ErrorMessage, execution.CreatedAt,
		execution.StartedAt, execution.EndedAt, execution.UpdatedAt)
	if isUniqueViolation(err) {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.FlowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM flow_executions WHERE id = $1`

	execution, err := scanExecution(er.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) GetByIdempotencyKey(ctx context.Context, flowID, key string) (*models.FlowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM flow_executions WHERE flow_id = $1 AND idempotency_key = $2`

	execution, err := scanExecution(er.db.QueryRowContext(ctx, query, flowID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get execution by key: %w", err)
	}

	return execution, nil
}

// UpdateStatus performs the transition with a single conditional UPDATE so concurrent
// writers cannot both win.
func (er *ExecutionRepository) UpdateStatus(ctx context.Context, change persistence.StatusChange) (*models.FlowExecution, error) {
	from := make([]string, 0, len(change.From))
	for _, status := range change.From {
		from = append(from, string(status))
	}

	setStarted := change.To == models.ExecutionStatusRunning
	setEnded := change.To.IsTerminal()

	query := `
		UPDATE flow_executions SET
			status = $2,
			error_message = CASE WHEN $3 <> '' THEN $3 ELSE error_message END,
			started_at = CASE WHEN $5 AND started_at IS NULL THEN $4 ELSE started_at END,
			ended_at = CASE WHEN $6 THEN $4 ELSE ended_at END,
			updated_at = $4
		WHERE id = $1 AND status = ANY($7)
		RETURNING ` + executionColumns

	execution, err := scanExecution(er.db.QueryRowContext(ctx, query,
		change.ExecutionID, change.To, change.ErrorMessage, change.At, setStarted, setEnded, pq.Array(from)))
	if err == nil {
		return execution, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update execution %s status: %w", change.ExecutionID, err)
	}

	current, getErr := er.GetByID(ctx, change.ExecutionID)
	if getErr != nil {
		return nil, getErr
	}

	return current, &persistence.ExecutionError{
		Op:          "UpdateStatus",
		ExecutionID: change.ExecutionID,
		Err:         persistence.ErrStatusConflict,
		Message:     fmt.Sprintf("status is %s", current.Status),
	}
}

func (er *ExecutionRepository) ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.FlowExecution, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	query := `
		SELECT ` + executionColumns + ` FROM flow_executions
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)
		ORDER BY created_at
	`

	rows, err := er.db.QueryContext(ctx, query, pq.Array(values))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	defer func() { _ = rows.Close() }()

	executions := make([]*models.FlowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func scanExecution(row scanner) (*models.FlowExecution, error) {
	var (
		execution          models.FlowExecution
		variablesJSON      []byte
		startedAt, endedAt sql.NullTime
	)

	err := row.Scan(&execution.ID, &execution.FlowID, &execution.Mode, &execution.Status,
		&execution.IdempotencyKey, &execution.TotalContacts, &variablesJSON, &execution.ErrorMessage,
		&execution.CreatedAt, &startedAt, &endedAt, &execution.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if endedAt.Valid {
		execution.EndedAt = &endedAt.Time
	}

	if err := sqlbase.UnmarshalJSON(variablesJSON, &execution.Variables); err != nil {
		return nil, err
	}

	return &execution, nil
}
