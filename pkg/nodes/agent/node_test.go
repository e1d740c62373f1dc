package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var lookupTool = &models.AITool{
	ID:          "tool-1",
	Name:        "lookup_order",
	Description: "Finds an order",
	WebhookURL:  "https://hooks.example.com/orders",
	InputSchema: map[string]any{"type": "object"},
}

func newAgentContext(model protocol.Model, tools protocol.ToolInvoker, messenger protocol.Messenger) *protocol.ExecutionContext {
	return &protocol.ExecutionContext{
		ExecutionID: "exec-1",
		NodeID:      "agent",
		Step:        3,
		Contact:     &models.Contact{ID: "c1", Name: "Ana"},
		Model:       model,
		Tools:       tools,
		Messenger:   messenger,
	}
}

func TestAgentNode_ToolLoop(t *testing.T) {
	model := &mocks.MockModel{}
	tools := &mocks.MockToolInvoker{}
	messenger := &mocks.MockMessenger{}

	tools.On("Tools", mock.Anything, []string{"tool-1"}).Return([]*models.AITool{lookupTool}, nil)

	call := protocol.ToolCall{ID: "call-1", Name: "lookup_order", Arguments: map[string]any{"id": "42"}}

	model.On("Generate", mock.Anything, mock.MatchedBy(func(req protocol.ModelRequest) bool {
		return len(req.Messages) == 1
	})).Return(protocol.ModelResponse{ToolCalls: []protocol.ToolCall{call}}, nil).Once()

	model.On("Generate", mock.Anything, mock.MatchedBy(func(req protocol.ModelRequest) bool {
		return len(req.Messages) == 3 && req.Messages[2].Role == "tool" && req.Messages[2].ToolCallID == "call-1"
	})).Return(protocol.ModelResponse{Content: "Your order ships today"}, nil).Once()

	tools.On("Invoke", mock.Anything, lookupTool, call.Arguments, 0).Return(&protocol.ToolResult{
		Execution: &models.ToolExecution{Status: models.ToolExecutionSucceeded},
		Response:  map[string]any{"status": "shipping"},
	}, nil)

	messenger.On("Send", mock.Anything, mock.MatchedBy(func(msg protocol.OutboundMessage) bool {
		return msg.Text == "Your order ships today" && msg.DedupeKey == "exec-1:c1:agent:3:reply"
	})).Return("msg-9", nil)

	node, err := NewAgentNode("agent", map[string]any{
		"system_prompt": "You help {{.contact.name}}",
		"prompt":        "Where is my order?",
		"tools":         []any{"tool-1"},
		"reply":         true,
	})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), newAgentContext(model, tools, messenger))
	require.NoError(t, err)
	assert.Equal(t, models.ResultCompleted, result.Kind)
	assert.Equal(t, "Your order ships today", result.Output["text"])
	assert.Equal(t, "msg-9", result.Output["message_id"])
	assert.Len(t, result.Output["tool_calls"], 1)

	model.AssertExpectations(t)
	tools.AssertExpectations(t)
	messenger.AssertExpectations(t)
}

func TestAgentNode_OnToolError(t *testing.T) {
	call := protocol.ToolCall{ID: "call-1", Name: "lookup_order"}

	t.Run("fail", func(t *testing.T) {
		model := &mocks.MockModel{}
		tools := &mocks.MockToolInvoker{}

		tools.On("Tools", mock.Anything, []string{"tool-1"}).Return([]*models.AITool{lookupTool}, nil)
		tools.On("Invoke", mock.Anything, lookupTool, mock.Anything, 0).Return(nil, errors.New("webhook timeout"))
		model.On("Generate", mock.Anything, mock.Anything).
			Return(protocol.ModelResponse{ToolCalls: []protocol.ToolCall{call}}, nil).Once()

		node, err := NewAgentNode("agent", map[string]any{
			"prompt":        "go",
			"tools":         []string{"tool-1"},
			"on_tool_error": OnToolErrorFail,
		})
		require.NoError(t, err)

		result, err := node.Execute(context.Background(), newAgentContext(model, tools, nil))
		require.NoError(t, err)
		assert.Equal(t, models.ResultFailed, result.Kind)
		assert.Contains(t, result.Error, "webhook timeout")
	})

	t.Run("continue", func(t *testing.T) {
		model := &mocks.MockModel{}
		tools := &mocks.MockToolInvoker{}

		tools.On("Tools", mock.Anything, []string{"tool-1"}).Return([]*models.AITool{lookupTool}, nil)
		tools.On("Invoke", mock.Anything, lookupTool, mock.Anything, 0).Return(nil, errors.New("webhook timeout"))
		model.On("Generate", mock.Anything, mock.MatchedBy(func(req protocol.ModelRequest) bool {
			return len(req.Messages) == 1
		})).Return(protocol.ModelResponse{ToolCalls: []protocol.ToolCall{call}}, nil).Once()
		model.On("Generate", mock.Anything, mock.MatchedBy(func(req protocol.ModelRequest) bool {
			return len(req.Messages) == 3 && req.Messages[2].Content == `{"error":"webhook timeout"}`
		})).Return(protocol.ModelResponse{Content: "Sorry, I could not check"}, nil).Once()

		node, err := NewAgentNode("agent", map[string]any{"prompt": "go", "tools": []string{"tool-1"}})
		require.NoError(t, err)

		result, err := node.Execute(context.Background(), newAgentContext(model, tools, nil))
		require.NoError(t, err)
		assert.Equal(t, models.ResultCompleted, result.Kind)
		assert.Equal(t, "Sorry, I could not check", result.Output["text"])
		model.AssertExpectations(t)
	})
}

func TestAgentNode_UnknownToolAndRoundLimit(t *testing.T) {
	model := &mocks.MockModel{}
	call := protocol.ToolCall{ID: "call-1", Name: "does_not_exist"}

	model.On("Generate", mock.Anything, mock.Anything).
		Return(protocol.ModelResponse{Content: "thinking", ToolCalls: []protocol.ToolCall{call}}, nil)

	node, err := NewAgentNode("agent", map[string]any{"prompt": "go", "max_tool_rounds": float64(2)})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), newAgentContext(model, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ResultCompleted, result.Kind)
	assert.Equal(t, "thinking", result.Output["text"])
	model.AssertNumberOfCalls(t, "Generate", 3)
	assert.Len(t, result.Output["tool_calls"], 2)
}

func TestNewAgentNode_Errors(t *testing.T) {
	tests := map[string]map[string]any{
		"missing prompt":  {},
		"bad tools":       {"prompt": "p", "tools": "tool-1"},
		"bad tool id":     {"prompt": "p", "tools": []any{1}},
		"negative rounds": {"prompt": "p", "max_tool_rounds": -1},
		"bad policy":      {"prompt": "p", "on_tool_error": "ignore"},
	}

	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewAgentNode("agent", config)
			assert.Error(t, err)
		})
	}
}

func TestAgentNode_NoModel(t *testing.T) {
	node, err := NewAgentNode("agent", map[string]any{"prompt": "p"})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), newAgentContext(nil, nil, nil))
	assert.Error(t, err)
}

func TestAgentNode_ToolDefinitionsFollowConfiguredOrder(t *testing.T) {
	tool := func(id, name string) *models.AITool {
		return &models.AITool{ID: id, Name: name, WebhookURL: "https://hooks.example.com/" + name}
	}

	model := &mocks.MockModel{}
	tools := &mocks.MockToolInvoker{}

	configured := []string{"tool-c", "tool-a", "tool-b"}
	tools.On("Tools", mock.Anything, configured).
		Return([]*models.AITool{tool("tool-a", "alpha"), tool("tool-b", "bravo"), tool("tool-c", "charlie")}, nil)

	var sent [][]string

	model.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		req, ok := args.Get(1).(protocol.ModelRequest)
		require.True(t, ok)

		names := make([]string, 0, len(req.Tools))
		for _, def := range req.Tools {
			names = append(names, def.Name)
		}

		sent = append(sent, names)
	}).Return(protocol.ModelResponse{Content: "done"}, nil)

	node, err := NewAgentNode("agent", map[string]any{"prompt": "go", "tools": configured})
	require.NoError(t, err)

	for range 5 {
		_, err := node.Execute(context.Background(), newAgentContext(model, tools, nil))
		require.NoError(t, err)
	}

	require.Len(t, sent, 5)

	for _, names := range sent {
		assert.Equal(t, []string{"charlie", "alpha", "bravo"}, names)
	}
}
