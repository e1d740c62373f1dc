// Package wait provides a node that holds the contact for a duration or until a point in time.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// WaitNode suspends the contact. Exactly one of duration or until is set.
type WaitNode struct {
	id       string
	duration time.Duration
	until    *time.Time
}

// NewWaitNode creates a new wait node.
func NewWaitNode(id string, config map[string]any) (*WaitNode, error) {
	durationStr, hasDuration := config["duration"].(string)
	untilStr, hasUntil := config["until"].(string)

	switch {
	case hasDuration && hasUntil:
		return nil, errors.New("only one of 'duration' or 'until' may be set")
	case hasDuration:
		duration, err := time.ParseDuration(durationStr)
		if err != nil {
			return nil, fmt.Errorf("invalid duration '%s': %w", durationStr, err)
		}

		if duration < 0 {
			return nil, fmt.Errorf("duration must not be negative, got %s", durationStr)
		}

		return &WaitNode{id: id, duration: duration}, nil
	case hasUntil:
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return nil, fmt.Errorf("invalid until '%s': %w", untilStr, err)
		}

		return &WaitNode{id: id, until: &until}, nil
	default:
		return nil, errors.New("missing required field 'duration' or 'until'")
	}
}

func (n *WaitNode) ID() string {
	return n.id
}

func (n *WaitNode) Kind() models.NodeKind {
	return models.NodeKindWait
}

func (n *WaitNode) Execute(_ context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	if execCtx.Resuming() {
		return models.Completed(map[string]any{"resumed_at": execCtx.Now.UTC().Format(time.RFC3339)}), nil
	}

	resumeAt := execCtx.Now.Add(n.duration)
	if n.until != nil {
		resumeAt = *n.until
	}

	if !resumeAt.After(execCtx.Now) {
		return models.Completed(map[string]any{"resumed_at": execCtx.Now.UTC().Format(time.RFC3339)}), nil
	}

	return models.WaitUntil(resumeAt, map[string]any{"resume_at": resumeAt.UTC().Format(time.RFC3339)}), nil
}

// WaitNodeFactory creates WaitNode instances.
type WaitNodeFactory struct{}

func NewWaitNodeFactory() protocol.NodeFactory {
	return &WaitNodeFactory{}
}

func (f *WaitNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewWaitNode(id, config)
}

func (f *WaitNodeFactory) ID() models.NodeKind {
	return models.NodeKindWait
}

func (f *WaitNodeFactory) Name() string {
	return "Wait"
}

func (f *WaitNodeFactory) Description() string {
	return "Holds the contact for a duration (e.g. 5m, 2h) or until a fixed time"
}

func (f *WaitNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "Go duration string",
				"examples":    []string{"30s", "5m", "24h"},
			},
			"until": map[string]any{
				"type":   "string",
				"format": "date-time",
			},
		},
		"oneOf": []map[string]any{
			{"required": []string{"duration"}},
			{"required": []string{"until"}},
		},
	}
}
