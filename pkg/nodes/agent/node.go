// Package agent provides the AI agent node, which asks a language model for a reply
// and lets it call webhook tools while generating.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
)

const (
	OnToolErrorFail     = "fail"
	OnToolErrorContinue = "continue"

	defaultMaxToolRounds = 3
)

// AgentNode runs a bounded generate / call-tools loop.
type AgentNode struct {
	id            string
	systemPrompt  string
	prompt        string
	toolIDs       []string
	maxToolRounds int
	onToolError   string
	reply         bool
}

// NewAgentNode creates a new agent node.
func NewAgentNode(id string, config map[string]any) (*AgentNode, error) {
	prompt, ok := config["prompt"].(string)
	if !ok || prompt == "" {
		return nil, errors.New("missing required field 'prompt'")
	}

	node := &AgentNode{
		id:            id,
		prompt:        prompt,
		maxToolRounds: defaultMaxToolRounds,
		onToolError:   OnToolErrorContinue,
	}

	node.systemPrompt, _ = config["system_prompt"].(string)
	node.reply, _ = config["reply"].(bool)

	switch tools := config["tools"].(type) {
	case []any:
		for _, tool := range tools {
			toolID, ok := tool.(string)
			if !ok || toolID == "" {
				return nil, errors.New("tools must be a list of tool ids")
			}

			node.toolIDs = append(node.toolIDs, toolID)
		}
	case []string:
		node.toolIDs = tools
	case nil:
	default:
		return nil, errors.New("tools must be a list of tool ids")
	}

	if rounds, ok := config["max_tool_rounds"].(float64); ok {
		node.maxToolRounds = int(rounds)
	} else if rounds, ok := config["max_tool_rounds"].(int); ok {
		node.maxToolRounds = rounds
	}

	if node.maxToolRounds < 0 {
		return nil, fmt.Errorf("max_tool_rounds must not be negative, got %d", node.maxToolRounds)
	}

	if onToolError, ok := config["on_tool_error"].(string); ok && onToolError != "" {
		if onToolError != OnToolErrorFail && onToolError != OnToolErrorContinue {
			return nil, fmt.Errorf("invalid on_tool_error '%s' (must be fail or continue)", onToolError)
		}

		node.onToolError = onToolError
	}

	return node, nil
}

func (n *AgentNode) ID() string {
	return n.id
}

func (n *AgentNode) Kind() models.NodeKind {
	return models.NodeKindAgent
}

// Execute asks the model for a turn, runs any requested tools and feeds their
// results back, until the model answers without tool calls or the round budget
// is spent.
func (n *AgentNode) Execute(ctx context.Context, execCtx *protocol.ExecutionContext) (models.NodeResult, error) {
	if execCtx.Model == nil {
		return models.NodeResult{}, errors.New("no model configured for agent node")
	}

	prompt, err := execCtx.Render(n.prompt)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	systemPrompt, err := execCtx.Render(n.systemPrompt)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render system prompt: %w", err)
	}

	ordered, err := n.loadTools(ctx, execCtx)
	if err != nil {
		return models.NodeResult{}, err
	}

	tools := make(map[string]*models.AITool, len(ordered))
	for _, tool := range ordered {
		tools[tool.Name] = tool
	}

	request := protocol.ModelRequest{
		SystemPrompt: systemPrompt,
		Messages:     []protocol.ModelMessage{{Role: "user", Content: prompt}},
		Tools:        definitions(ordered),
	}

	var (
		response  protocol.ModelResponse
		callIndex int
		toolCalls []map[string]any
	)

	for round := 0; ; round++ {
		response, err = execCtx.Model.Generate(ctx, request)
		if err != nil {
			return models.NodeResult{}, fmt.Errorf("model generation failed: %w", err)
		}

		if len(response.ToolCalls) == 0 || round >= n.maxToolRounds {
			break
		}

		request.Messages = append(request.Messages, protocol.ModelMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			content, record, failure := n.runTool(ctx, execCtx, tools, call, callIndex)
			callIndex++

			toolCalls = append(toolCalls, record)

			if failure != nil && n.onToolError == OnToolErrorFail {
				return models.Failed(failure), nil
			}

			request.Messages = append(request.Messages, protocol.ModelMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}

	output := map[string]any{
		"text":       response.Content,
		"tool_calls": toolCalls,
	}

	if n.reply && response.Content != "" {
		messageID, err := execCtx.Messenger.Send(ctx, protocol.OutboundMessage{
			ContactID: execCtx.Contact.ID,
			Phone:     execCtx.Contact.Phone,
			Kind:      protocol.MessageText,
			Text:      response.Content,
			DedupeKey: execCtx.DedupeKey("reply"),
		})
		if err != nil {
			return models.NodeResult{}, fmt.Errorf("failed to send agent reply: %w", err)
		}

		output["message_id"] = messageID
	}

	return models.Completed(output), nil
}

// loadTools returns the node's tools in the order they are configured.
func (n *AgentNode) loadTools(ctx context.Context, execCtx *protocol.ExecutionContext) ([]*models.AITool, error) {
	if len(n.toolIDs) == 0 {
		return nil, nil
	}

	if execCtx.Tools == nil {
		return nil, errors.New("agent node has tools but no tool invoker is available")
	}

	loaded, err := execCtx.Tools.Tools(ctx, n.toolIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load tools: %w", err)
	}

	ordered := slices.Clone(loaded)
	slices.SortStableFunc(ordered, func(a, b *models.AITool) int {
		return slices.Index(n.toolIDs, a.ID) - slices.Index(n.toolIDs, b.ID)
	})

	return ordered, nil
}

// runTool invokes one tool call. It returns the content fed back to the model,
// a summary for the node output and the failure, if any.
func (n *AgentNode) runTool(
	ctx context.Context,
	execCtx *protocol.ExecutionContext,
	tools map[string]*models.AITool,
	call protocol.ToolCall,
	callIndex int,
) (string, map[string]any, error) {
	record := map[string]any{"name": call.Name, "call_index": callIndex}

	tool, ok := tools[call.Name]
	if !ok {
		failure := fmt.Errorf("model requested unknown tool '%s'", call.Name)
		record["error"] = failure.Error()

		return errorContent(failure), record, failure
	}

	result, err := execCtx.Tools.Invoke(ctx, tool, call.Arguments, callIndex)
	if err != nil {
		if execCtx.Logger != nil {
			execCtx.Logger.WarnContext(ctx, "tool invocation failed", "tool", tool.Name, "error", err)
		}

		record["error"] = err.Error()

		return errorContent(err), record, err
	}

	record["status"] = string(result.Execution.Status)
	record["replayed"] = result.Replayed

	content, err := json.Marshal(result.Response)
	if err != nil {
		return errorContent(err), record, err
	}

	return string(content), record, nil
}

func errorContent(err error) string {
	content, _ := json.Marshal(map[string]string{"error": err.Error()})

	return string(content)
}

func definitions(tools []*models.AITool) []protocol.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}

	defs := make([]protocol.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, protocol.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}

	return defs
}
