// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test Node with default values that can be overridden.
func CreateTestNode(id string, kind models.NodeKind, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:     id,
		Kind:   kind,
		Name:   "Test " + string(kind),
		Config: map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// FlowBuilder assembles flows for tests.
type FlowBuilder struct {
	flow *models.Flow
}

// NewFlow starts a flow with the given id.
func NewFlow(id string) *FlowBuilder {
	now := time.Now().UTC()

	return &FlowBuilder{flow: &models.Flow{
		ID:        id,
		Name:      "Test Flow",
		Variables: map[string]any{"env": "test"},
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

// Node adds a node.
func (b *FlowBuilder) Node(id string, kind models.NodeKind, config map[string]any) *FlowBuilder {
	if config == nil {
		config = map[string]any{}
	}

	b.flow.Nodes = append(b.flow.Nodes, CreateTestNode(id, kind, WithConfig(config)))

	return b
}

// Edge adds an edge. An empty label is the default edge.
func (b *FlowBuilder) Edge(source, target, label string) *FlowBuilder {
	b.flow.Edges = append(b.flow.Edges, &models.Edge{Source: source, Target: target, Label: label})

	return b
}

// Chain links the given node ids with default edges, in order.
func (b *FlowBuilder) Chain(ids ...string) *FlowBuilder {
	for i := 1; i < len(ids); i++ {
		b.Edge(ids[i-1], ids[i], models.DefaultBranch)
	}

	return b
}

func (b *FlowBuilder) Build() *models.Flow {
	return b.flow
}

// CreateWaitFlow creates Start → Wait(duration) → End.
func CreateWaitFlow(id, duration string) *models.Flow {
	return NewFlow(id).
		Node("start", models.NodeKindStart, nil).
		Node("wait", models.NodeKindWait, map[string]any{"duration": duration}).
		Node("end", models.NodeKindEnd, nil).
		Chain("start", "wait", "end").
		Build()
}

// CreateMessageFlow creates Start → Message → End.
func CreateMessageFlow(id, text string) *models.Flow {
	return NewFlow(id).
		Node("start", models.NodeKindStart, nil).
		Node("greet", models.NodeKindMessage, map[string]any{"text": text}).
		Node("end", models.NodeKindEnd, nil).
		Chain("start", "greet", "end").
		Build()
}

// CreateMenuFlow creates Start → Menu(yes/no) → End(yes) | End(no).
func CreateMenuFlow(id string, timeout string) *models.Flow {
	config := map[string]any{
		"text": "Do you like it?",
		"choices": []any{
			map[string]any{"label": "yes", "title": "Yes"},
			map[string]any{"label": "no", "title": "No"},
		},
	}
	if timeout != "" {
		config["timeout"] = timeout
	}

	return NewFlow(id).
		Node("start", models.NodeKindStart, nil).
		Node("ask", models.NodeKindMenu, config).
		Node("end-yes", models.NodeKindEnd, map[string]any{"reason": "liked"}).
		Node("end-no", models.NodeKindEnd, map[string]any{"reason": "disliked"}).
		Edge("start", "ask", "").
		Edge("ask", "end-yes", "yes").
		Edge("ask", "end-no", "no").
		Build()
}

// CreateTestContact creates an active contact.
func CreateTestContact(id string, overrides ...func(*models.Contact)) *models.Contact {
	contact := &models.Contact{
		ID:         id,
		Name:       "Contact " + id,
		Phone:      "+5511999990000",
		Status:     models.ContactStatusActive,
		Attributes: map[string]any{"plan": "pro"},
	}

	for _, override := range overrides {
		override(contact)
	}

	return contact
}

// WithContactStatus sets the contact status.
func WithContactStatus(status models.ContactStatus) func(*models.Contact) {
	return func(c *models.Contact) {
		c.Status = status
	}
}

// CreateTestExecution creates a running campaign execution for flowID.
func CreateTestExecution(flowID string) *models.FlowExecution {
	now := time.Now().UTC()

	return &models.FlowExecution{
		ID:             uuid.New().String(),
		FlowID:         flowID,
		Mode:           models.ExecutionModeCampaign,
		Status:         models.ExecutionStatusRunning,
		IdempotencyKey: uuid.New().String(),
		CreatedAt:      now,
		StartedAt:      &now,
		UpdatedAt:      now,
	}
}
