// Package llm implements the agent node's model capability against an
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/courier/pkg/protocol"
)

const (
	completionsPath = "/chat/completions"
	maxResponseSize = 1 << 20
)

var ErrEmptyResponse = errors.New("model returned no choices")

// APIError is a non-2xx answer from the model endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API returned HTTP %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func NewClient(logger *slog.Logger, baseURL, model string, opts ...Option) *Client {
	client := &Client{
		logger:  logger.With("module", "llm"),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Arguments   string         `json:"arguments,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Generate(ctx context.Context, request protocol.ModelRequest) (protocol.ModelResponse, error) {
	body, err := json.Marshal(c.encode(request))
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to encode model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("model request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("failed to read model response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return protocol.ModelResponse{}, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return protocol.ModelResponse{}, fmt.Errorf("invalid model response: %w", err)
	}

	if len(decoded.Choices) == 0 {
		return protocol.ModelResponse{}, ErrEmptyResponse
	}

	return c.decode(ctx, decoded.Choices[0].Message), nil
}

func (c *Client) encode(request protocol.ModelRequest) chatRequest {
	encoded := chatRequest{Model: c.model}

	if request.SystemPrompt != "" {
		encoded.Messages = append(encoded.Messages, chatMessage{Role: "system", Content: request.SystemPrompt})
	}

	for _, message := range request.Messages {
		chat := chatMessage{Role: message.Role, Content: message.Content, ToolCallID: message.ToolCallID}

		for _, call := range message.ToolCalls {
			arguments, _ := json.Marshal(call.Arguments)

			chat.ToolCalls = append(chat.ToolCalls, chatToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: chatFunction{Name: call.Name, Arguments: string(arguments)},
			})
		}

		encoded.Messages = append(encoded.Messages, chat)
	}

	for _, tool := range request.Tools {
		encoded.Tools = append(encoded.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return encoded
}

func (c *Client) decode(ctx context.Context, message chatMessage) protocol.ModelResponse {
	response := protocol.ModelResponse{Content: message.Content}

	for _, call := range message.ToolCalls {
		arguments := map[string]any{}

		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &arguments); err != nil {
				// The tool call still reaches the agent, which reports the bad payload to the model.
				c.logger.WarnContext(ctx, "model sent malformed tool arguments", "tool", call.Function.Name, "error", err)
			}
		}

		response.ToolCalls = append(response.ToolCalls, protocol.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}

	return response
}
