// Package note provides editor-only annotation nodes.
package note

import (
	"context"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// NoteNode is a sticky note on the canvas. It is never scheduled.
type NoteNode struct {
	id string
}

func (n *NoteNode) ID() string {
	return n.id
}

func (n *NoteNode) Kind() models.NodeKind {
	return models.NodeKindNote
}

func (n *NoteNode) Execute(_ context.Context, _ *protocol.ExecutionContext) (models.NodeResult, error) {
	return models.NodeResult{}, protocol.ErrNotExecutable
}

// NoteNodeFactory creates NoteNode instances.
type NoteNodeFactory struct{}

func NewNoteNodeFactory() protocol.NodeFactory {
	return &NoteNodeFactory{}
}

func (f *NoteNodeFactory) Create(_ context.Context, id string, _ map[string]any) (protocol.Node, error) {
	return &NoteNode{id: id}, nil
}

func (f *NoteNodeFactory) ID() models.NodeKind {
	return models.NodeKindNote
}

func (f *NoteNodeFactory) Name() string {
	return "Note"
}

func (f *NoteNodeFactory) Description() string {
	return "Free text annotation shown in the editor. Has no runtime behavior."
}

func (f *NoteNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	}
}
