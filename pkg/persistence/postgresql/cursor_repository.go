package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/lib/pq"
)

const cursorColumns = `
	execution_id, contact_id, node_id, status, step, attempts, resume_at, deadline,
	awaiting_reply, reply, reason, version, created_at, updated_at
`

// CursorRepository handles contact cursor database operations.
type CursorRepository struct {
	db *sql.DB
}

func (cr *CursorRepository) CreateMany(ctx context.Context, cursors []*models.ContactCursor) error {
	transaction, err := cr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO contact_cursors (` + cursorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (execution_id, contact_id) DO NOTHING
	`

	for _, cursor := range cursors {
		_, err := transaction.ExecContext(ctx, query,
			cursor.ExecutionID, cursor.ContactID, cursor.NodeID, cursor.Status, cursor.Step, cursor.Attempts,
			cursor.ResumeAt, cursor.Deadline, cursor.AwaitingReply, cursor.Reply, cursor.Reason, cursor.Version,
			cursor.CreatedAt, cursor.UpdatedAt)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to insert cursor for contact %s: %w", cursor.ContactID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit cursors: %w", err)
	}

	return nil
}

func (cr *CursorRepository) Get(ctx context.Context, executionID, contactID string) (*models.ContactCursor, error) {
	query := `SELECT ` + cursorColumns + ` FROM contact_cursors WHERE execution_id = $1 AND contact_id = $2`

	cursor, err := scanCursor(cr.db.QueryRowContext(ctx, query, executionID, contactID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewCursorError("Get", executionID, contactID, persistence.ErrCursorNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	return cursor, nil
}

func (cr *CursorRepository) GetMany(ctx context.Context, executionID string, contactIDs []string) ([]*models.ContactCursor, error) {
	query := `
		SELECT ` + cursorColumns + ` FROM contact_cursors
		WHERE execution_id = $1 AND contact_id = ANY($2)
		ORDER BY contact_id
	`

	return cr.query(ctx, query, executionID, pq.Array(contactIDs))
}

// Update is a compare-and-swap on the version column.
func (cr *CursorRepository) Update(ctx context.Context, cursor *models.ContactCursor) error {
	now := time.Now().UTC()

	query := `
		UPDATE contact_cursors SET
			node_id = $3, status = $4, step = $5, attempts = $6, resume_at = $7, deadline = $8,
			awaiting_reply = $9, reply = $10, reason = $11, version = version + 1, updated_at = $12
		WHERE execution_id = $1 AND contact_id = $2 AND version = $13
	`

	result, err := cr.db.ExecContext(ctx, query,
		cursor.ExecutionID, cursor.ContactID, cursor.NodeID, cursor.Status, cursor.Step, cursor.Attempts,
		cursor.ResumeAt, cursor.Deadline, cursor.AwaitingReply, cursor.Reply, cursor.Reason, now, cursor.Version)
	if err != nil {
		return fmt.Errorf("failed to update cursor for contact %s: %w", cursor.ContactID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		_, getErr := cr.Get(ctx, cursor.ExecutionID, cursor.ContactID)
		if getErr != nil {
			return getErr
		}

		return persistence.NewCursorError("Update", cursor.ExecutionID, cursor.ContactID, persistence.ErrCursorConflict)
	}

	cursor.Version++
	cursor.UpdatedAt = now

	return nil
}

func (cr *CursorRepository) List(ctx context.Context, executionID string, statuses ...models.CursorStatus) ([]*models.ContactCursor, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	query := `
		SELECT ` + cursorColumns + ` FROM contact_cursors
		WHERE execution_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY contact_id
	`

	return cr.query(ctx, query, executionID, pq.Array(values))
}

func (cr *CursorRepository) CountByStatus(ctx context.Context, executionID string) (map[models.CursorStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM contact_cursors WHERE execution_id = $1 GROUP BY status`

	rows, err := cr.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count cursors: %w", err)
	}

	defer func() { _ = rows.Close() }()

	counts := make(map[models.CursorStatus]int)

	for rows.Next() {
		var (
			status models.CursorStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan cursor count: %w", err)
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

func (cr *CursorRepository) query(ctx context.Context, query string, args ...any) ([]*models.ContactCursor, error) {
	rows, err := cr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}

	defer func() { _ = rows.Close() }()

	cursors := make([]*models.ContactCursor, 0)

	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}

		cursors = append(cursors, cursor)
	}

	return cursors, rows.Err()
}

func scanCursor(row scanner) (*models.ContactCursor, error) {
	var (
		cursor             models.ContactCursor
		resumeAt, deadline sql.NullTime
		reply              sql.NullString
	)

	err := row.Scan(&cursor.ExecutionID, &cursor.ContactID, &cursor.NodeID, &cursor.Status, &cursor.Step,
		&cursor.Attempts, &resumeAt, &deadline, &cursor.AwaitingReply, &reply, &cursor.Reason,
		&cursor.Version, &cursor.CreatedAt, &cursor.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if resumeAt.Valid {
		cursor.ResumeAt = &resumeAt.Time
	}

	if deadline.Valid {
		cursor.Deadline = &deadline.Time
	}

	if reply.Valid {
		cursor.Reply = &reply.String
	}

	return &cursor, nil
}
