package file

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

// FlowRepository handles flow-related file operations.
type FlowRepository struct {
	store *store
}

// Save writes the flow, setting timestamps.
func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	if err := validateID("flow", flow.ID); err != nil {
		return err
	}

	fr.store.mu.Lock()
	defer fr.store.mu.Unlock()

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	return fr.store.write(fr.store.path("flows", flow.ID+".json"), flow)
}

func (fr *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	if err := validateID("flow", id); err != nil {
		return nil, fmt.Errorf("invalid flow ID: %w", err)
	}

	fr.store.mu.Lock()
	defer fr.store.mu.Unlock()

	var flow models.Flow

	err := fr.store.read(fr.store.path("flows", id+".json"), &flow)
	if errors.Is(err, errNotExist) {
		return nil, persistence.ErrFlowNotFound
	}

	if err != nil {
		return nil, err
	}

	return &flow, nil
}

func (fr *FlowRepository) GetAll(_ context.Context) ([]*models.Flow, error) {
	fr.store.mu.Lock()
	defer fr.store.mu.Unlock()

	flows := make([]*models.Flow, 0)

	err := fr.store.readDir(fr.store.path("flows"), func(path string) error {
		var flow models.Flow
		if err := fr.store.read(path, &flow); err != nil {
			return err
		}

		flows = append(flows, &flow)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

// ContactRepository handles contact-related file operations.
type ContactRepository struct {
	store *store
}

func (cr *ContactRepository) Save(_ context.Context, contact *models.Contact) error {
	if err := validateID("contact", contact.ID); err != nil {
		return err
	}

	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	return cr.store.write(cr.store.path("contacts", contact.ID+".json"), contact)
}

func (cr *ContactRepository) GetByIDs(_ context.Context, ids []string) (map[string]*models.Contact, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	contacts := make(map[string]*models.Contact, len(ids))

	for _, id := range ids {
		if validateID("contact", id) != nil {
			continue
		}

		var contact models.Contact

		err := cr.store.read(cr.store.path("contacts", id+".json"), &contact)
		if errors.Is(err, errNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		contacts[id] = &contact
	}

	return contacts, nil
}

// ToolRepository handles tool-related file operations.
type ToolRepository struct {
	store *store
}

func (tr *ToolRepository) SaveTool(_ context.Context, tool *models.AITool) error {
	if err := validateID("tool", tool.ID); err != nil {
		return err
	}

	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	now := time.Now().UTC()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}

	tool.UpdatedAt = now

	return tr.store.write(tr.store.path("tools", tool.ID+".json"), tool)
}

func (tr *ToolRepository) GetTool(_ context.Context, id string) (*models.AITool, error) {
	if err := validateID("tool", id); err != nil {
		return nil, fmt.Errorf("invalid tool ID: %w", err)
	}

	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	var tool models.AITool

	err := tr.store.read(tr.store.path("tools", id+".json"), &tool)
	if errors.Is(err, errNotExist) {
		return nil, persistence.ErrToolNotFound
	}

	if err != nil {
		return nil, err
	}

	return &tool, nil
}

func (tr *ToolRepository) SaveToolExecution(_ context.Context, toolExecution *models.ToolExecution) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	return tr.store.write(tr.store.path("tool_executions", keyFileName(toolExecution.Key)), toolExecution)
}

func (tr *ToolRepository) GetToolExecutionByKey(_ context.Context, key string) (*models.ToolExecution, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	var toolExecution models.ToolExecution

	err := tr.store.read(tr.store.path("tool_executions", keyFileName(key)), &toolExecution)
	if errors.Is(err, errNotExist) {
		return nil, persistence.ErrToolExecutionNotFound
	}

	if err != nil {
		return nil, err
	}

	return &toolExecution, nil
}
