// Package media provides image and video message nodes.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// MediaNode sends an image or a video with an optional caption.
type MediaNode struct {
	id      string
	kind    models.NodeKind
	url     string
	caption string
}

// NewMediaNode creates a media node of the given kind (image or video).
func NewMediaNode(kind models.NodeKind, id string, config map[string]any) (*MediaNode, error) {
	if kind != models.NodeKindImage && kind != models.NodeKindVideo {
		return nil, fmt.Errorf("unsupported media kind '%s'", kind)
	}

	rawURL, ok := config["url"].(string)
	if !ok || rawURL == "" {
		return nil, errors.New("missing required field 'url'")
	}

	// Templated URLs are checked after rendering.
	if _, err := url.ParseRequestURI(rawURL); err != nil && !strings.Contains(rawURL, "{{") {
		return nil, fmt.Errorf("invalid url '%s': %w", rawURL, err)
	}

	caption, _ := config["caption"].(string)

	return &MediaNode{id: id, kind: kind, url: rawURL, caption: caption}, nil
}

func (n *MediaNode) ID() string {
	return n.id
}

func (n *MediaNode) Kind() models.NodeKind {
	return n.kind
}

func (n *MediaNode) Execute(ctx context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	mediaURL, err := execCtx.Render(n.url)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render media url: %w", err)
	}

	caption, err := execCtx.Render(n.caption)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render caption: %w", err)
	}

	messageKind := protocol.MessageImage
	if n.kind == models.NodeKindVideo {
		messageKind = protocol.MessageVideo
	}

	messageID, err := execCtx.Messenger.Send(ctx, protocol.OutboundMessage{
		ContactID: execCtx.Contact.ID,
		Phone:     execCtx.Contact.Phone,
		Kind:      messageKind,
		MediaURL:  mediaURL,
		Caption:   caption,
		DedupeKey: execCtx.DedupeKey(string(messageKind)),
	})
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to send %s: %w", n.kind, err)
	}

	return models.Completed(map[string]any{
		"message_id": messageID,
		"url":        mediaURL,
	}), nil
}
