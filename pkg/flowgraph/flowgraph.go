// Package flowgraph validates flow graphs and resolves the edges a contact
// follows after each node.
package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// NodeCatalog resolves node kinds to their factories.
type NodeCatalog interface {
	Factory(kind models.NodeKind) (protocol.NodeFactory, bool)
}

type Validator struct {
	catalog  NodeCatalog
	validate *validator.Validate
}

func NewValidator(catalog NodeCatalog) *Validator {
	return &Validator{
		catalog:  catalog,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate checks the structure of flow and returns an *InvalidGraphError listing
// every violation found.
func (v *Validator) Validate(ctx context.Context, flow *models.Flow) error {
	if flow == nil {
		return &InvalidGraphError{Violations: []Violation{{Message: "flow is nil"}}}
	}

	c := &checker{flow: flow, nodes: make(map[string]*models.Node, len(flow.Nodes))}

	v.checkFields(c)
	c.checkNodes()
	c.checkEdges()
	v.checkConfigs(ctx, c)
	c.checkReachability()

	if len(c.violations) > 0 {
		return &InvalidGraphError{FlowID: flow.ID, Violations: c.violations}
	}

	return nil
}

type checker struct {
	flow       *models.Flow
	nodes      map[string]*models.Node
	violations []Violation
}

func (c *checker) add(nodeID, format string, args ...any) {
	c.violations = append(c.violations, Violation{NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) checkFields(c *checker) {
	err := v.validate.Struct(c.flow)
	if err == nil {
		return
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		c.add("", "%s", err.Error())

		return
	}

	for _, fieldErr := range validationErrors {
		c.add("", "field '%s' failed '%s' validation", fieldErr.Namespace(), fieldErr.Tag())
	}
}

func (c *checker) checkNodes() {
	starts := 0

	for _, node := range c.flow.Nodes {
		if node == nil || node.ID == "" {
			continue
		}

		if _, dup := c.nodes[node.ID]; dup {
			c.add(node.ID, "duplicate node id")

			continue
		}

		c.nodes[node.ID] = node

		if node.Kind == models.NodeKindStart {
			starts++
		}
	}

	switch {
	case starts == 0:
		c.add("", "flow has no start node")
	case starts > 1:
		c.add("", "flow has %d start nodes, expected exactly one", starts)
	}
}

func (c *checker) checkEdges() {
	type edgeKey struct{ source, label string }

	seen := make(map[edgeKey]bool, len(c.flow.Edges))

	for i, edge := range c.flow.Edges {
		if edge == nil {
			continue
		}

		source, sourceOK := c.nodes[edge.Source]
		target, targetOK := c.nodes[edge.Target]

		if !sourceOK {
			c.add("", "edge %d references nonexistent source node '%s'", i, edge.Source)
		}

		if !targetOK {
			c.add("", "edge %d references nonexistent target node '%s'", i, edge.Target)
		}

		if !sourceOK || !targetOK {
			continue
		}

		if source.Kind == models.NodeKindNote || target.Kind == models.NodeKindNote {
			c.add("", "edge %d connects a note node; notes cannot take part in edges", i)
		}

		if target.Kind == models.NodeKindStart {
			c.add(target.ID, "start node cannot have incoming edges")
		}

		if source.Kind == models.NodeKindEnd {
			c.add(source.ID, "end node cannot have outgoing edges")
		}

		key := edgeKey{edge.Source, edge.Label}
		if seen[key] {
			if edge.Label == models.DefaultBranch {
				c.add(source.ID, "more than one default edge")
			} else {
				c.add(source.ID, "more than one edge labeled '%s'", edge.Label)
			}
		}

		seen[key] = true
	}
}

// checkConfigs validates each node configuration against its kind's schema, then
// builds the executor to catch semantic errors and to learn declared branches.
func (v *Validator) checkConfigs(ctx context.Context, c *checker) {
	for _, node := range c.flow.Nodes {
		if node == nil || node.ID == "" || node.Kind == "" {
			continue
		}

		factory, ok := v.catalog.Factory(node.Kind)
		if !ok {
			c.add(node.ID, "no executor registered for kind '%s'", node.Kind)

			continue
		}

		config := node.Config
		if config == nil {
			config = map[string]any{}
		}

		if problems := schemaProblems(factory.Schema(), config); len(problems) > 0 {
			for _, problem := range problems {
				c.add(node.ID, "invalid configuration: %s", problem)
			}

			continue
		}

		executor, err := factory.Create(ctx, node.ID, config)
		if err != nil {
			c.add(node.ID, "invalid configuration: %s", err.Error())

			continue
		}

		c.checkBranches(node, executor)
	}
}

func (c *checker) checkBranches(node *models.Node, executor protocol.Node) {
	var labels []string
	if brancher, ok := executor.(protocol.Brancher); ok {
		labels = brancher.Branches()
	}

	edges := c.flow.OutgoingEdges(node.ID)

	for _, label := range labels {
		if !slices.ContainsFunc(edges, func(edge *models.Edge) bool { return edge.Label == label }) {
			c.add(node.ID, "no edge for choice '%s'", label)
		}
	}

	for _, edge := range edges {
		if edge.Label == models.DefaultBranch || edge.Label == models.ErrorBranch {
			continue
		}

		if !slices.Contains(labels, edge.Label) {
			c.add(node.ID, "edge label '%s' does not match any branch of the node", edge.Label)
		}
	}
}

func (c *checker) checkReachability() {
	start, ok := c.flow.StartNode()
	if !ok {
		return
	}

	reached := map[string]bool{start.ID: true}
	queue := []string{start.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range c.flow.OutgoingEdges(current) {
			if _, exists := c.nodes[edge.Target]; exists && !reached[edge.Target] {
				reached[edge.Target] = true
				queue = append(queue, edge.Target)
			}
		}
	}

	for _, node := range c.flow.Nodes {
		if node == nil || node.Kind == models.NodeKindNote || reached[node.ID] {
			continue
		}

		c.add(node.ID, "node is not reachable from the start node")
	}
}

func schemaProblems(schema, config map[string]any) []string {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return []string{err.Error()}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return problems
}

// NextNodes returns the node ids to visit after nodeID produced outcome. An
// unmatched branch label falls back to the default edge; a failure only follows
// an explicit error edge. The result is empty at a terminal node.
func NextNodes(flow *models.Flow, nodeID, outcome string) []string {
	edges := flow.OutgoingEdges(nodeID)

	next := targets(edges, outcome)
	if len(next) == 0 && outcome != models.DefaultBranch && outcome != models.ErrorBranch {
		next = targets(edges, models.DefaultBranch)
	}

	return next
}

// IsTerminal reports whether nodeID has no outgoing edge besides an error edge.
func IsTerminal(flow *models.Flow, nodeID string) bool {
	for _, edge := range flow.OutgoingEdges(nodeID) {
		if edge.Label != models.ErrorBranch {
			return false
		}
	}

	return true
}

func targets(edges []*models.Edge, label string) []string {
	var ids []string

	for _, edge := range edges {
		if edge.Label == label {
			ids = append(ids, edge.Target)
		}
	}

	return ids
}
