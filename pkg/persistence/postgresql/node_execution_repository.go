package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/persistence/sqlbase"
)

const nodeExecutionColumns = `
	id, execution_id, contact_id, node_id, node_kind, step, attempt, status, branch,
	input, output, error_message, started_at, ended_at
`

// NodeExecutionRepository is the append-only ledger. Rows are inserted, never updated.
type NodeExecutionRepository struct {
	db *sql.DB
}

func (nr *NodeExecutionRepository) Append(ctx context.Context, nodeExecution *models.NodeExecution) error {
	inputJSON, err := sqlbase.MarshalJSON(nodeExecution.Input)
	if err != nil {
		return err
	}

	outputJSON, err := sqlbase.MarshalJSON(nodeExecution.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO node_executions (` + nodeExecutionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = nr.db.ExecContext(ctx, query,
		nodeExecution.ID, nodeExecution.ExecutionID, nodeExecution.ContactID, nodeExecution.NodeID,
		nodeExecution.NodeKind, nodeExecution.Step, nodeExecution.Attempt, nodeExecution.Status,
		nodeExecution.Branch, inputJSON, outputJSON, nodeExecution.ErrorMessage,
		nodeExecution.StartedAt, nodeExecution.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to append node execution %s: %w", nodeExecution.ID, err)
	}

	return nil
}

func (nr *NodeExecutionRepository) FindSucceeded(ctx context.Context, key persistence.LedgerKey) (*models.NodeExecution, error) {
	query := `
		SELECT ` + nodeExecutionColumns + ` FROM node_executions
		WHERE execution_id = $1 AND contact_id = $2 AND node_id = $3 AND step = $4 AND status = 'succeeded'
		ORDER BY attempt DESC
		LIMIT 1
	`

	nodeExecution, err := scanNodeExecution(nr.db.QueryRowContext(ctx, query,
		key.ExecutionID, key.ContactID, key.NodeID, key.Step))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNodeExecutionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find node execution: %w", err)
	}

	return nodeExecution, nil
}

func (nr *NodeExecutionRepository) CountAttempts(ctx context.Context, key persistence.LedgerKey) (int, error) {
	query := `
		SELECT COUNT(*) FROM node_executions
		WHERE execution_id = $1 AND contact_id = $2 AND node_id = $3 AND step = $4
	`

	var count int

	err := nr.db.QueryRowContext(ctx, query, key.ExecutionID, key.ContactID, key.NodeID, key.Step).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count node execution attempts: %w", err)
	}

	return count, nil
}

func (nr *NodeExecutionRepository) ListByContact(ctx context.Context, executionID, contactID string) ([]*models.NodeExecution, error) {
	query := `
		SELECT ` + nodeExecutionColumns + ` FROM node_executions
		WHERE execution_id = $1 AND contact_id = $2
		ORDER BY step, started_at
	`

	rows, err := nr.db.QueryContext(ctx, query, executionID, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}

	return collectNodeExecutions(rows)
}

func (nr *NodeExecutionRepository) List(ctx context.Context, filter models.NodeExecutionFilter) ([]*models.NodeExecution, int, error) {
	where := `WHERE execution_id = $1 AND ($2 = '' OR contact_id = $2) AND ($3 = '' OR status = $3)`

	var total int

	err := nr.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_executions `+where,
		filter.ExecutionID, filter.ContactID, filter.Status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count node executions: %w", err)
	}

	limit := sql.NullInt64{Int64: int64(filter.Limit), Valid: filter.Limit > 0}

	query := `SELECT ` + nodeExecutionColumns + ` FROM node_executions ` + where + `
		ORDER BY step, started_at
		LIMIT $4 OFFSET $5`

	rows, err := nr.db.QueryContext(ctx, query,
		filter.ExecutionID, filter.ContactID, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list node executions: %w", err)
	}

	nodeExecutions, err := collectNodeExecutions(rows)
	if err != nil {
		return nil, 0, err
	}

	return nodeExecutions, total, nil
}

func collectNodeExecutions(rows *sql.Rows) ([]*models.NodeExecution, error) {
	defer func() { _ = rows.Close() }()

	nodeExecutions := make([]*models.NodeExecution, 0)

	for rows.Next() {
		nodeExecution, err := scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		nodeExecutions = append(nodeExecutions, nodeExecution)
	}

	return nodeExecutions, rows.Err()
}

func scanNodeExecution(row scanner) (*models.NodeExecution, error) {
	var (
		nodeExecution         models.NodeExecution
		inputJSON, outputJSON []byte
	)

	err := row.Scan(&nodeExecution.ID, &nodeExecution.ExecutionID, &nodeExecution.ContactID,
		&nodeExecution.NodeID, &nodeExecution.NodeKind, &nodeExecution.Step, &nodeExecution.Attempt,
		&nodeExecution.Status, &nodeExecution.Branch, &inputJSON, &outputJSON,
		&nodeExecution.ErrorMessage, &nodeExecution.StartedAt, &nodeExecution.EndedAt)
	if err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(inputJSON, &nodeExecution.Input); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(outputJSON, &nodeExecution.Output); err != nil {
		return nil, err
	}

	return &nodeExecution, nil
}
