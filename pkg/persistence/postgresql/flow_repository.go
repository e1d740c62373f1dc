package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db *sql.DB
}

// Save upserts a flow.
func (fr *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	nodesJSON, err := sqlbase.MarshalJSON(flow.Nodes)
	if err != nil {
		return err
	}

	edgesJSON, err := sqlbase.MarshalJSON(flow.Edges)
	if err != nil {
		return err
	}

	if edgesJSON == nil {
		edgesJSON = []byte("[]")
	}

	variablesJSON, err := sqlbase.MarshalJSON(flow.Variables)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	query := `
		INSERT INTO flows (id, name, nodes, edges, variables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			variables = EXCLUDED.variables,
			updated_at = EXCLUDED.updated_at
	`

	_, err = fr.db.ExecContext(ctx, query,
		flow.ID, flow.Name, nodesJSON, edgesJSON, variablesJSON, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}

	return nil
}

func (fr *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `SELECT id, name, nodes, edges, variables, created_at, updated_at FROM flows WHERE id = $1`

	flow, err := scanFlow(fr.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrFlowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}

	return flow, nil
}

func (fr *FlowRepository) GetAll(ctx context.Context) ([]*models.Flow, error) {
	query := `SELECT id, name, nodes, edges, variables, created_at, updated_at FROM flows ORDER BY created_at`

	rows, err := fr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() { _ = rows.Close() }()

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	return flows, rows.Err()
}

func scanFlow(row scanner) (*models.Flow, error) {
	var (
		flow                               models.Flow
		nodesJSON, edgesJSON, variablesJSON []byte
	)

	err := row.Scan(&flow.ID, &flow.Name, &nodesJSON, &edgesJSON, &variablesJSON, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(nodesJSON, &flow.Nodes); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(edgesJSON, &flow.Edges); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(variablesJSON, &flow.Variables); err != nil {
		return nil, err
	}

	return &flow, nil
}

// ContactRepository reads and writes contacts.
type ContactRepository struct {
	db *sql.DB
}

func (cr *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	attributesJSON, err := sqlbase.MarshalJSON(contact.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO contacts (id, name, phone, status, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			status = EXCLUDED.status,
			attributes = EXCLUDED.attributes
	`

	_, err = cr.db.ExecContext(ctx, query, contact.ID, contact.Name, contact.Phone, contact.Status, attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return nil
}

func (cr *ContactRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Contact, error) {
	contacts := make(map[string]*models.Contact, len(ids))
	if len(ids) == 0 {
		return contacts, nil
	}

	query := `SELECT id, name, phone, status, attributes FROM contacts WHERE id = ANY($1)`

	rows, err := cr.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			contact        models.Contact
			attributesJSON []byte
		)

		err := rows.Scan(&contact.ID, &contact.Name, &contact.Phone, &contact.Status, &attributesJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		if err := sqlbase.UnmarshalJSON(attributesJSON, &contact.Attributes); err != nil {
			return nil, err
		}

		contacts[contact.ID] = &contact
	}

	return contacts, rows.Err()
}

// ToolRepository handles tool definitions and invocation records.
type ToolRepository struct {
	db *sql.DB
}

func (tr *ToolRepository) SaveTool(ctx context.Context, tool *models.AITool) error {
	headersJSON, err := sqlbase.MarshalJSON(tool.Headers)
	if err != nil {
		return err
	}

	schemaJSON, err := sqlbase.MarshalJSON(tool.InputSchema)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}

	tool.UpdatedAt = now

	query := `
		INSERT INTO ai_tools (id, name, description, webhook_url, headers, input_schema, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			webhook_url = EXCLUDED.webhook_url,
			headers = EXCLUDED.headers,
			input_schema = EXCLUDED.input_schema,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tr.db.ExecContext(ctx, query, tool.ID, tool.Name, tool.Description, tool.WebhookURL,
		headersJSON, schemaJSON, tool.CreatedAt, tool.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tool %s: %w", tool.ID, err)
	}

	return nil
}

func (tr *ToolRepository) GetTool(ctx context.Context, id string) (*models.AITool, error) {
	query := `
		SELECT id, name, description, webhook_url, headers, input_schema, created_at, updated_at
		FROM ai_tools WHERE id = $1
	`

	var (
		tool                    models.AITool
		headersJSON, schemaJSON []byte
	)

	err := tr.db.QueryRowContext(ctx, query, id).Scan(&tool.ID, &tool.Name, &tool.Description, &tool.WebhookURL,
		&headersJSON, &schemaJSON, &tool.CreatedAt, &tool.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrToolNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get tool %s: %w", id, err)
	}

	if err := sqlbase.UnmarshalJSON(headersJSON, &tool.Headers); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(schemaJSON, &tool.InputSchema); err != nil {
		return nil, err
	}

	return &tool, nil
}

func (tr *ToolRepository) SaveToolExecution(ctx context.Context, toolExecution *models.ToolExecution) error {
	requestJSON, err := sqlbase.MarshalJSON(toolExecution.Request)
	if err != nil {
		return err
	}

	responseJSON, err := sqlbase.MarshalJSON(toolExecution.Response)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tool_executions (
			id, key, tool_id, node_execution_id, request, response,
			status_code, status, error_message, started_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (key) DO UPDATE SET
			node_execution_id = EXCLUDED.node_execution_id,
			response = EXCLUDED.response,
			status_code = EXCLUDED.status_code,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			ended_at = EXCLUDED.ended_at
	`

	_, err = tr.db.ExecContext(ctx, query,
		toolExecution.ID, toolExecution.Key, toolExecution.ToolID, toolExecution.NodeExecutionID,
		requestJSON, responseJSON, toolExecution.StatusCode, toolExecution.Status,
		toolExecution.ErrorMessage, toolExecution.StartedAt, toolExecution.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to save tool execution %s: %w", toolExecution.Key, err)
	}

	return nil
}

func (tr *ToolRepository) GetToolExecutionByKey(ctx context.Context, key string) (*models.ToolExecution, error) {
	query := `
		SELECT id, key, tool_id, node_execution_id, request, response,
			status_code, status, error_message, started_at, ended_at
		FROM tool_executions WHERE key = $1
	`

	var (
		toolExecution             models.ToolExecution
		requestJSON, responseJSON []byte
		endedAt                   sql.NullTime
	)

	err := tr.db.QueryRowContext(ctx, query, key).Scan(
		&toolExecution.ID, &toolExecution.Key, &toolExecution.ToolID, &toolExecution.NodeExecutionID,
		&requestJSON, &responseJSON, &toolExecution.StatusCode, &toolExecution.Status,
		&toolExecution.ErrorMessage, &toolExecution.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrToolExecutionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get tool execution %s: %w", key, err)
	}

	if endedAt.Valid {
		toolExecution.EndedAt = &endedAt.Time
	}

	if err := sqlbase.UnmarshalJSON(requestJSON, &toolExecution.Request); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSON(responseJSON, &toolExecution.Response); err != nil {
		return nil, err
	}

	return &toolExecution, nil
}
