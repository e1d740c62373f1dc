// Package delay provides a node that holds the contact for a relative amount of time.
package delay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

var units = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// DelayNode suspends the contact for amount*unit. The delay is a minimum, the
// contact is revisited on the first batch after it elapses.
type DelayNode struct {
	id       string
	duration time.Duration
}

// NewDelayNode creates a new delay node.
func NewDelayNode(id string, config map[string]any) (*DelayNode, error) {
	amount, ok := number(config["amount"])
	if !ok {
		return nil, errors.New("missing required field 'amount'")
	}

	if amount < 0 {
		return nil, fmt.Errorf("amount must not be negative, got %v", amount)
	}

	unit := "minutes"
	if u, ok := config["unit"].(string); ok && u != "" {
		unit = u
	}

	base, ok := units[unit]
	if !ok {
		return nil, fmt.Errorf("invalid unit '%s' (must be seconds, minutes, hours or days)", unit)
	}

	return &DelayNode{id: id, duration: time.Duration(amount * float64(base))}, nil
}

func (n *DelayNode) ID() string {
	return n.id
}

func (n *DelayNode) Kind() models.NodeKind {
	return models.NodeKindDelay
}

func (n *DelayNode) Execute(_ context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	if execCtx.Resuming() || n.duration <= 0 {
		return models.Completed(map[string]any{"delayed_seconds": n.duration.Seconds()}), nil
	}

	return models.WaitUntil(execCtx.Now.Add(n.duration), map[string]any{"delayed_seconds": n.duration.Seconds()}), nil
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// DelayNodeFactory creates DelayNode instances.
type DelayNodeFactory struct{}

func NewDelayNodeFactory() protocol.NodeFactory {
	return &DelayNodeFactory{}
}

func (f *DelayNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewDelayNode(id, config)
}

func (f *DelayNodeFactory) ID() models.NodeKind {
	return models.NodeKindDelay
}

func (f *DelayNodeFactory) Name() string {
	return "Delay"
}

func (f *DelayNodeFactory) Description() string {
	return "Holds the contact for a relative amount of time before continuing"
}

func (f *DelayNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount": map[string]any{
				"type":    "number",
				"minimum": 0,
			},
			"unit": map[string]any{
				"type":    "string",
				"enum":    []string{"seconds", "minutes", "hours", "days"},
				"default": "minutes",
			},
		},
		"required": []string{"amount"},
		"examples": []map[string]any{
			{"amount": 5, "unit": "minutes"},
			{"amount": 1, "unit": "days"},
		},
	}
}
