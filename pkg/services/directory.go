package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Directory manages the records flows refer to: contacts and agent tools.
type Directory struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	now         func() time.Time
}

func NewDirectory(persistence persistence.Persistence, validate *validator.Validate) *Directory {
	return &Directory{
		persistence: persistence,
		validate:    validate,
		now:         time.Now,
	}
}

// SaveContacts upserts contacts. Nothing is written when one of them is invalid.
func (d *Directory) SaveContacts(ctx context.Context, contacts []*models.Contact) error {
	if len(contacts) == 0 {
		return ErrContactIDsRequired
	}

	for index, contact := range contacts {
		if contact == nil {
			return NewValidationError("SaveContacts", "INVALID_CONTACT", fmt.Sprintf("contact %d is empty", index), ErrInvalidRequest)
		}

		if contact.Status == "" {
			contact.Status = models.ContactStatusActive
		}

		if err := d.validate.Struct(contact); err != nil {
			return NewValidationError("SaveContacts", "INVALID_CONTACT", err.Error(), ErrInvalidRequest)
		}
	}

	for _, contact := range contacts {
		if err := d.persistence.ContactRepository().Save(ctx, contact); err != nil {
			return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
		}
	}

	return nil
}

// SaveTool registers an agent tool, assigning an id when missing.
func (d *Directory) SaveTool(ctx context.Context, tool *models.AITool) (*models.AITool, error) {
	if tool == nil {
		return nil, NewValidationError("SaveTool", "INVALID_TOOL", "tool is empty", ErrInvalidRequest)
	}

	now := d.now().UTC()

	if tool.ID == "" {
		tool.ID = uuid.New().String()
		tool.CreatedAt = now
	} else if existing, err := d.persistence.ToolRepository().GetTool(ctx, tool.ID); err == nil {
		tool.CreatedAt = existing.CreatedAt
	} else {
		tool.CreatedAt = now
	}

	tool.UpdatedAt = now

	if err := d.validate.Struct(tool); err != nil {
		return nil, NewValidationError("SaveTool", "INVALID_TOOL", err.Error(), ErrInvalidRequest)
	}

	if err := d.persistence.ToolRepository().SaveTool(ctx, tool); err != nil {
		return nil, fmt.Errorf("failed to save tool: %w", err)
	}

	return tool, nil
}

func (d *Directory) Tool(ctx context.Context, id string) (*models.AITool, error) {
	return d.persistence.ToolRepository().GetTool(ctx, id)
}
