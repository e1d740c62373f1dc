// Package registry maps node kinds to the factories that build their executors.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// ErrUnknownKind is returned for a node kind with no registered factory.
var ErrUnknownKind = errors.New("node kind not registered")

type Registry struct {
	logger        *slog.Logger
	nodeFactories map[models.NodeKind]protocol.NodeFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:        log,
		nodeFactories: make(map[models.NodeKind]protocol.NodeFactory),
	}
}

// RegisterNode adds a factory, replacing any previous one for the same kind.
func (r *Registry) RegisterNode(nodeFactory protocol.NodeFactory) {
	r.logger.Debug("Registering node factory", "kind", nodeFactory.ID())
	r.nodeFactories[nodeFactory.ID()] = nodeFactory
}

// Factory returns the factory for kind.
func (r *Registry) Factory(kind models.NodeKind) (protocol.NodeFactory, bool) {
	factory, ok := r.nodeFactories[kind]

	return factory, ok
}

// CreateNode builds the executor of a flow node from its configuration.
func (r *Registry) CreateNode(ctx context.Context, node *models.Node) (protocol.Node, error) {
	factory, ok := r.nodeFactories[node.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownKind, node.Kind)
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	executor, err := factory.Create(ctx, node.ID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s node '%s': %w", node.Kind, node.ID, err)
	}

	return executor, nil
}

// GetAvailableNodes returns the registered factories ordered by kind.
func (r *Registry) GetAvailableNodes() []protocol.NodeFactory {
	factories := make([]protocol.NodeFactory, 0, len(r.nodeFactories))
	for _, factory := range r.nodeFactories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].ID() < factories[j].ID()
	})

	return factories
}

// HealthCheck reports whether any node kind is registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.nodeFactories) == 0 {
		return "No node kinds registered", false
	}

	return fmt.Sprintf("%d node kinds registered", len(r.nodeFactories)), true
}
