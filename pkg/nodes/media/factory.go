package media

import (
	"context"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// MediaNodeFactory creates MediaNode instances for one media kind.
type MediaNodeFactory struct {
	kind models.NodeKind
}

// NewImageNodeFactory creates the image node factory.
func NewImageNodeFactory() protocol.NodeFactory {
	return &MediaNodeFactory{kind: models.NodeKindImage}
}

// NewVideoNodeFactory creates the video node factory.
func NewVideoNodeFactory() protocol.NodeFactory {
	return &MediaNodeFactory{kind: models.NodeKindVideo}
}

func (f *MediaNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewMediaNode(f.kind, id, config)
}

func (f *MediaNodeFactory) ID() models.NodeKind {
	return f.kind
}

func (f *MediaNodeFactory) Name() string {
	if f.kind == models.NodeKindVideo {
		return "Video"
	}

	return "Image"
}

func (f *MediaNodeFactory) Description() string {
	return "Sends " + string(f.kind) + " media with an optional caption"
}

func (f *MediaNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Public URL of the " + string(f.kind),
			},
			"caption": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"url"},
	}
}
