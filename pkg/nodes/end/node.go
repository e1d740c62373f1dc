// Package end provides the terminal node of a flow.
package end

import (
	"context"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// EndNode completes the contact's traversal.
type EndNode struct {
	id     string
	reason string
}

func NewEndNode(id string, config map[string]any) *EndNode {
	reason, _ := config["reason"].(string)

	return &EndNode{id: id, reason: reason}
}

func (n *EndNode) ID() string {
	return n.id
}

func (n *EndNode) Kind() models.NodeKind {
	return models.NodeKindEnd
}

func (n *EndNode) Execute(_ context.Context, _ *protocol.ExecutionContext) (models.NodeResult, error) {
	output := map[string]any{"finished": true}
	if n.reason != "" {
		output["reason"] = n.reason
	}

	return models.Completed(output), nil
}

// EndNodeFactory creates EndNode instances.
type EndNodeFactory struct{}

func NewEndNodeFactory() protocol.NodeFactory {
	return &EndNodeFactory{}
}

func (f *EndNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewEndNode(id, config), nil
}

func (f *EndNodeFactory) ID() models.NodeKind {
	return models.NodeKindEnd
}

func (f *EndNodeFactory) Name() string {
	return "End"
}

func (f *EndNodeFactory) Description() string {
	return "Finishes the flow for the contact"
}

func (f *EndNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Optional label recorded in the node output",
			},
		},
	}
}
