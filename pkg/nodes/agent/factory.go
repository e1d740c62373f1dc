package agent

import (
	"context"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

// AgentNodeFactory creates AgentNode instances.
type AgentNodeFactory struct{}

// NewAgentNodeFactory creates a new factory instance.
func NewAgentNodeFactory() protocol.NodeFactory {
	return &AgentNodeFactory{}
}

// Create creates a new AgentNode instance.
func (f *AgentNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewAgentNode(id, config)
}

// ID returns the node kind.
func (f *AgentNodeFactory) ID() models.NodeKind {
	return models.NodeKindAgent
}

// Name returns the factory name.
func (f *AgentNodeFactory) Name() string {
	return "AI Agent"
}

// Description returns the factory description.
func (f *AgentNodeFactory) Description() string {
	return "Generates a response with a language model, optionally calling webhook tools, and can send it to the contact"
}

// Schema returns the JSON schema for Agent node configuration.
func (f *AgentNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"system_prompt": map[string]any{
				"type":        "string",
				"description": "Instructions for the model. Supports templates.",
			},
			"prompt": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "User turn sent to the model. Supports templates.",
				"examples": []string{
					"The customer {{.contact.name}} answered: {{.outputs.ask.answer}}. Write a short follow up.",
				},
			},
			"tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "IDs of the tools the model may call",
			},
			"max_tool_rounds": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"default": defaultMaxToolRounds,
			},
			"on_tool_error": map[string]any{
				"type":    "string",
				"enum":    []string{OnToolErrorFail, OnToolErrorContinue},
				"default": OnToolErrorContinue,
			},
			"reply": map[string]any{
				"type":        "boolean",
				"description": "Send the generated text to the contact",
				"default":     false,
			},
		},
		"required": []string{"prompt"},
	}
}
