// Package input provides a node that asks a question and stores the free-text answer.
package input

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/nodes/menu"
	"github.com/dukex/courier/pkg/protocol"
)

// InputNode sends a prompt and completes with the contact's reply under variable.
type InputNode struct {
	id       string
	prompt   string
	variable string
	timeout  time.Duration
}

// NewInputNode creates a new input node.
func NewInputNode(id string, config map[string]any) (*InputNode, error) {
	prompt, ok := config["prompt"].(string)
	if !ok || prompt == "" {
		return nil, errors.New("missing required field 'prompt'")
	}

	variable, ok := config["variable"].(string)
	if !ok || variable == "" {
		variable = "answer"
	}

	timeout, err := menu.ParseTimeout(config["timeout"])
	if err != nil {
		return nil, err
	}

	return &InputNode{id: id, prompt: prompt, variable: variable, timeout: timeout}, nil
}

func (n *InputNode) ID() string {
	return n.id
}

func (n *InputNode) Kind() models.NodeKind {
	return models.NodeKindInput
}

func (n *InputNode) Execute(ctx context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	if execCtx.Resuming() {
		if reply, ok := execCtx.Reply(); ok {
			return models.Completed(map[string]any{n.variable: reply}), nil
		}

		if execCtx.DeadlineExpired() {
			return models.Failed(protocol.ErrReplyTimeout), nil
		}

		return models.AwaitReply(execCtx.Wait.Deadline, nil), nil
	}

	prompt, err := execCtx.Render(n.prompt)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	messageID, err := execCtx.Messenger.Send(ctx, protocol.OutboundMessage{
		ContactID: execCtx.Contact.ID,
		Phone:     execCtx.Contact.Phone,
		Kind:      protocol.MessageText,
		Text:      prompt,
		DedupeKey: execCtx.DedupeKey("prompt"),
	})
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to send prompt: %w", err)
	}

	var deadline *time.Time
	if n.timeout > 0 {
		at := execCtx.Now.Add(n.timeout)
		deadline = &at
	}

	return models.AwaitReply(deadline, map[string]any{"message_id": messageID}), nil
}

// InputNodeFactory creates InputNode instances.
type InputNodeFactory struct{}

func NewInputNodeFactory() protocol.NodeFactory {
	return &InputNodeFactory{}
}

func (f *InputNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewInputNode(id, config)
}

func (f *InputNodeFactory) ID() models.NodeKind {
	return models.NodeKindInput
}

func (f *InputNodeFactory) Name() string {
	return "Input"
}

func (f *InputNodeFactory) Description() string {
	return "Asks the contact a question and stores the answer for later nodes"
}

func (f *InputNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"variable": map[string]any{
				"type":        "string",
				"description": "Output key holding the reply",
				"default":     "answer",
				"pattern":     "^[a-zA-Z_][a-zA-Z0-9_]*$",
			},
			"timeout": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"prompt"},
	}
}
