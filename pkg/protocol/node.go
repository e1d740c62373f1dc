// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"
	"errors"

	"github.com/dukex/courier/pkg/models"
)

var (
	// ErrNotExecutable is returned by kinds that exist only in the editor.
	ErrNotExecutable = errors.New("node kind is not executable")

	// ErrReplyTimeout is the failure of a menu or input node whose reply deadline passed.
	ErrReplyTimeout = errors.New("reply timeout")
)

// Node executes one step of a flow for one contact.
type Node interface {
	ID() string
	Kind() models.NodeKind
	// Execute returns the outcome for the contact. A returned error is recorded as a
	// node failure for this contact only.
	Execute(ctx context.Context, execCtx *ExecutionContext) (models.NodeResult, error)
}

// Brancher is implemented by nodes whose outcome selects a labeled edge.
type Brancher interface {
	// Branches returns the labels every outgoing edge set must cover.
	Branches() []string
}

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance with the given configuration
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the node kind this factory builds
	ID() models.NodeKind

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}
