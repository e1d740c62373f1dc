// Package models defines the core domain models for campaign flow execution.
package models

import "time"

// NodeKind identifies the behavior of a node in a flow graph.
type NodeKind string

const (
	NodeKindStart   NodeKind = "start"
	NodeKindEnd     NodeKind = "end"
	NodeKindMessage NodeKind = "message"
	NodeKindDelay   NodeKind = "delay"
	NodeKindWait    NodeKind = "wait"
	NodeKindMenu    NodeKind = "menu"
	NodeKindInput   NodeKind = "input"
	NodeKindImage   NodeKind = "image"
	NodeKindVideo   NodeKind = "video"
	NodeKindAgent   NodeKind = "agent"
	NodeKindNote    NodeKind = "note"
)

// Edge labels with a special meaning.
const (
	// DefaultBranch is the label of an unlabeled edge, used when no labeled edge matches.
	DefaultBranch = ""
	// ErrorBranch labels an explicit failure edge, followed when a node fails.
	ErrorBranch = "error"
)

// Node is a typed step in a flow graph.
type Node struct {
	ID     string         `json:"id"     validate:"required"`
	Kind   NodeKind       `json:"kind"   validate:"required"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// Edge connects a source node to a target node. Label selects the edge when the
// source node branches (menu choice) or fails (ErrorBranch).
type Edge struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`
}

// Flow is the immutable graph authored offline and executed once per contact.
type Flow struct {
	ID        string         `json:"id"         validate:"required"`
	Name      string         `json:"name"       validate:"required,min=1"`
	Nodes     []*Node        `json:"nodes"      validate:"required,min=1,dive,required"`
	Edges     []*Edge        `json:"edges"      validate:"dive,required"`
	Variables map[string]any `json:"variables,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NodeByID returns the node with the given id.
func (f *Flow) NodeByID(id string) (*Node, bool) {
	for _, node := range f.Nodes {
		if node != nil && node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// StartNode returns the first start node of the flow.
func (f *Flow) StartNode() (*Node, bool) {
	for _, node := range f.Nodes {
		if node != nil && node.Kind == NodeKindStart {
			return node, true
		}
	}

	return nil, false
}

// OutgoingEdges returns the edges leaving the given node, in declaration order.
// Nil entries are skipped.
func (f *Flow) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range f.Edges {
		if edge != nil && edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
