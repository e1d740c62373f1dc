package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/google/uuid"
)

type Flow struct {
	persistence persistence.Persistence
	validator   *flowgraph.Validator
	now         func() time.Time
}

// NewFlow creates a new flow service.
func NewFlow(persistence persistence.Persistence, validator *flowgraph.Validator) *Flow {
	return &Flow{
		persistence: persistence,
		validator:   validator,
		now:         time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Save validates the graph and stores it. A flow without an id gets a new one;
// saving an existing id replaces it and keeps its creation time.
func (f *Flow) Save(ctx context.Context, flow *models.Flow) (*models.Flow, error) {
	if flow == nil {
		return nil, ErrFlowNil
	}

	now := f.now().UTC()

	if flow.ID == "" {
		flow.ID = uuid.New().String()
		flow.CreatedAt = now
	} else {
		existing, err := f.persistence.FlowRepository().GetByID(ctx, flow.ID)

		switch {
		case err == nil:
			flow.CreatedAt = existing.CreatedAt
		case persistence.IsFlowNotFound(err):
			flow.CreatedAt = now
		default:
			return nil, fmt.Errorf("failed to load flow: %w", err)
		}
	}

	flow.UpdatedAt = now

	if err := f.validator.Validate(ctx, flow); err != nil {
		return nil, err
	}

	if err := f.persistence.FlowRepository().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// FetchByID retrieves a flow by its ID.
func (f *Flow) FetchByID(ctx context.Context, id string) (*models.Flow, error) {
	return f.persistence.FlowRepository().GetByID(ctx, id)
}

func (f *Flow) List(ctx context.Context) ([]*models.Flow, error) {
	flows, err := f.persistence.FlowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return flows, nil
}

// Validate re-checks a stored flow against the current node catalog.
func (f *Flow) Validate(ctx context.Context, id string) error {
	flow, err := f.FetchByID(ctx, id)
	if err != nil {
		return err
	}

	return f.validator.Validate(ctx, flow)
}
