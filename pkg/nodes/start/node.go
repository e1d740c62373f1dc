// Package start provides the entry node of every flow.
package start

import (
	"context"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// StartNode marks where every contact enters the flow. It has no behavior of its own.
type StartNode struct {
	id string
}

func NewStartNode(id string) *StartNode {
	return &StartNode{id: id}
}

func (n *StartNode) ID() string {
	return n.id
}

func (n *StartNode) Kind() models.NodeKind {
	return models.NodeKindStart
}

func (n *StartNode) Execute(_ context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	return models.Completed(map[string]any{"entered_at": execCtx.Now.UTC().Format(time.RFC3339)}), nil
}

// StartNodeFactory creates StartNode instances.
type StartNodeFactory struct{}

func NewStartNodeFactory() protocol.NodeFactory {
	return &StartNodeFactory{}
}

func (f *StartNodeFactory) Create(_ context.Context, id string, _ map[string]any) (protocol.Node, error) {
	return NewStartNode(id), nil
}

func (f *StartNodeFactory) ID() models.NodeKind {
	return models.NodeKindStart
}

func (f *StartNodeFactory) Name() string {
	return "Start"
}

func (f *StartNodeFactory) Description() string {
	return "Entry point of the flow. Every flow has exactly one."
}

func (f *StartNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
