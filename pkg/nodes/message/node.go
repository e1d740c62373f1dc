// Package message provides the text message node.
package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// MessageNode sends a templated text message to the contact.
type MessageNode struct {
	id   string
	text string
}

// NewMessageNode creates a new message node.
func NewMessageNode(id string, config map[string]any) (*MessageNode, error) {
	text, ok := config["text"].(string)
	if !ok || text == "" {
		return nil, errors.New("missing required field 'text'")
	}

	return &MessageNode{id: id, text: text}, nil
}

func (n *MessageNode) ID() string {
	return n.id
}

func (n *MessageNode) Kind() models.NodeKind {
	return models.NodeKindMessage
}

// Execute renders the text and hands it to the messenger.
func (n *MessageNode) Execute(ctx context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	text, err := execCtx.Render(n.text)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render message text: %w", err)
	}

	messageID, err := execCtx.Messenger.Send(ctx, protocol.OutboundMessage{
		ContactID: execCtx.Contact.ID,
		Phone:     execCtx.Contact.Phone,
		Kind:      protocol.MessageText,
		Text:      text,
		DedupeKey: execCtx.DedupeKey("text"),
	})
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to send message: %w", err)
	}

	return models.Completed(map[string]any{
		"message_id": messageID,
		"text":       text,
	}), nil
}

// MessageNodeFactory creates MessageNode instances.
type MessageNodeFactory struct{}

// NewMessageNodeFactory creates a new factory instance.
func NewMessageNodeFactory() protocol.NodeFactory {
	return &MessageNodeFactory{}
}

func (f *MessageNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewMessageNode(id, config)
}

func (f *MessageNodeFactory) ID() models.NodeKind {
	return models.NodeKindMessage
}

func (f *MessageNodeFactory) Name() string {
	return "Message"
}

func (f *MessageNodeFactory) Description() string {
	return "Sends a text message to the contact. Supports templating with contact, variables and previous outputs."
}

func (f *MessageNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message body. Supports templates.",
				"examples": []string{
					"Hi {{.contact.name}}, your order is on its way!",
					"Your code is {{.outputs.generate_code.code}}",
				},
			},
		},
		"required": []string{"text"},
	}
}
