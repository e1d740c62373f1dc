package menu

import (
	"context"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// MenuNodeFactory creates MenuNode instances.
type MenuNodeFactory struct{}

// NewMenuNodeFactory creates a new factory instance.
func NewMenuNodeFactory() protocol.NodeFactory {
	return &MenuNodeFactory{}
}

// Create creates a new MenuNode instance.
func (f *MenuNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewMenuNode(id, config)
}

// ID returns the node kind.
func (f *MenuNodeFactory) ID() models.NodeKind {
	return models.NodeKindMenu
}

// Name returns the factory name.
func (f *MenuNodeFactory) Name() string {
	return "Menu"
}

// Description returns the factory description.
func (f *MenuNodeFactory) Description() string {
	return "Sends a list of choices and follows the edge labeled with the choice the contact replies with"
}

// Schema returns the JSON schema for Menu node configuration.
func (f *MenuNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Question shown above the choices. Supports templates.",
			},
			"choices": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"label": map[string]any{"type": "string", "minLength": 1},
						"title": map[string]any{"type": "string"},
					},
					"required": []string{"label"},
				},
			},
			"timeout": map[string]any{
				"type":        "string",
				"description": "How long to wait for a reply (Go duration). Waits forever when unset.",
				"examples":    []string{"10m", "24h"},
			},
		},
		"required": []string{"text", "choices"},
		"examples": []map[string]any{
			{
				"text": "Did you like the product, {{.contact.name}}?",
				"choices": []map[string]any{
					{"label": "yes", "title": "Yes"},
					{"label": "no", "title": "No"},
				},
				"timeout": "24h",
			},
		},
	}
}
