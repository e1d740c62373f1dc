package registry

import (
	"github.com/dukex/courier/pkg/nodes/agent"
	"github.com/dukex/courier/pkg/nodes/delay"
	"github.com/dukex/courier/pkg/nodes/end"
	"github.com/dukex/courier/pkg/nodes/input"
	"github.com/dukex/courier/pkg/nodes/media"
	"github.com/dukex/courier/pkg/nodes/menu"
	"github.com/dukex/courier/pkg/nodes/message"
	"github.com/dukex/courier/pkg/nodes/note"
	"github.com/dukex/courier/pkg/nodes/start"
	"github.com/dukex/courier/pkg/nodes/wait"
)

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes() {
	r.RegisterNode(start.NewStartNodeFactory())
	r.RegisterNode(end.NewEndNodeFactory())
	r.RegisterNode(message.NewMessageNodeFactory())
	r.RegisterNode(delay.NewDelayNodeFactory())
	r.RegisterNode(wait.NewWaitNodeFactory())
	r.RegisterNode(menu.NewMenuNodeFactory())
	r.RegisterNode(input.NewInputNodeFactory())
	r.RegisterNode(media.NewImageNodeFactory())
	r.RegisterNode(media.NewVideoNodeFactory())
	r.RegisterNode(agent.NewAgentNodeFactory())

	// Note nodes never run; the factory exists so flows containing them validate.
	r.RegisterNode(note.NewNoteNodeFactory())
}
