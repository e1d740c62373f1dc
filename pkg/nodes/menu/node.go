// Package menu provides the menu node, which asks the contact to pick one of several choices.
package menu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// MenuNode sends a list of choices and branches on the contact's reply.
type MenuNode struct {
	id      string
	text    string
	choices []protocol.Choice
	timeout time.Duration
}

// NewMenuNode creates a new menu node.
func NewMenuNode(id string, config map[string]any) (*MenuNode, error) {
	text, ok := config["text"].(string)
	if !ok || text == "" {
		return nil, errors.New("missing required field 'text'")
	}

	choices, err := ParseChoices(config["choices"])
	if err != nil {
		return nil, err
	}

	timeout, err := ParseTimeout(config["timeout"])
	if err != nil {
		return nil, err
	}

	return &MenuNode{id: id, text: text, choices: choices, timeout: timeout}, nil
}

func (n *MenuNode) ID() string {
	return n.id
}

func (n *MenuNode) Kind() models.NodeKind {
	return models.NodeKindMenu
}

// Branches returns the choice labels; each needs a matching edge.
func (n *MenuNode) Branches() []string {
	labels := make([]string, 0, len(n.choices))
	for _, choice := range n.choices {
		labels = append(labels, choice.Label)
	}

	return labels
}

// Execute sends the menu on the first visit. On revisit it branches on the reply,
// or fails when the reply deadline passed.
func (n *MenuNode) Execute(ctx context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	if execCtx.Resuming() {
		if reply, ok := execCtx.Reply(); ok {
			label := n.Match(reply)

			return models.Branched(label, map[string]any{"reply": reply, "choice": label}), nil
		}

		if execCtx.DeadlineExpired() {
			return models.Failed(protocol.ErrReplyTimeout), nil
		}

		return models.AwaitReply(execCtx.Wait.Deadline, nil), nil
	}

	text, err := execCtx.Render(n.text)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render menu text: %w", err)
	}

	messageID, err := execCtx.Messenger.Send(ctx, protocol.OutboundMessage{
		ContactID: execCtx.Contact.ID,
		Phone:     execCtx.Contact.Phone,
		Kind:      protocol.MessageMenu,
		Text:      text,
		Choices:   n.choices,
		DedupeKey: execCtx.DedupeKey("menu"),
	})
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to send menu: %w", err)
	}

	var deadline *time.Time
	if n.timeout > 0 {
		at := execCtx.Now.Add(n.timeout)
		deadline = &at
	}

	return models.AwaitReply(deadline, map[string]any{"message_id": messageID}), nil
}

// Match resolves a free-text reply to a choice label by label, title or 1-based
// position. An unmatched reply resolves to the default branch.
func (n *MenuNode) Match(reply string) string {
	reply = strings.TrimSpace(reply)

	for _, choice := range n.choices {
		if strings.EqualFold(reply, choice.Label) || (choice.Title != "" && strings.EqualFold(reply, choice.Title)) {
			return choice.Label
		}
	}

	if index, err := strconv.Atoi(reply); err == nil && index >= 1 && index <= len(n.choices) {
		return n.choices[index-1].Label
	}

	return models.DefaultBranch
}

// ParseChoices reads the choices configuration.
func ParseChoices(raw any) ([]protocol.Choice, error) {
	var items []map[string]any

	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, errors.New("each choice must be an object")
			}

			items = append(items, m)
		}
	case []map[string]any:
		items = v
	default:
		return nil, errors.New("missing required field 'choices'")
	}

	if len(items) == 0 {
		return nil, errors.New("menu needs at least one choice")
	}

	choices := make([]protocol.Choice, 0, len(items))
	seen := make(map[string]bool, len(items))

	for i, item := range items {
		label, _ := item["label"].(string)
		title, _ := item["title"].(string)

		if label == "" {
			return nil, fmt.Errorf("choice %d has no label", i+1)
		}

		if label == models.ErrorBranch {
			return nil, fmt.Errorf("choice label '%s' is reserved", label)
		}

		if seen[label] {
			return nil, fmt.Errorf("duplicate choice label '%s'", label)
		}

		seen[label] = true
		choices = append(choices, protocol.Choice{Label: label, Title: title})
	}

	return choices, nil
}

// ParseTimeout reads an optional reply timeout given as a Go duration string.
func ParseTimeout(raw any) (time.Duration, error) {
	value, ok := raw.(string)
	if !ok || value == "" {
		return 0, nil
	}

	timeout, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout '%s': %w", value, err)
	}

	if timeout < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %s", value)
	}

	return timeout, nil
}
