package llm_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/courier/pkg/llm"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GenerateText(t *testing.T) {
	var request map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi Ana!"}}]}`))
	}))
	defer server.Close()

	client := llm.NewClient(slog.Default(), server.URL+"/v1/", "small-model", llm.WithAPIKey("secret"))

	response, err := client.Generate(context.Background(), protocol.ModelRequest{
		SystemPrompt: "Be brief.",
		Messages:     []protocol.ModelMessage{{Role: "user", Content: "Greet Ana"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana!", response.Content)
	assert.Empty(t, response.ToolCalls)

	assert.Equal(t, "small-model", request["model"])
	messages := request["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "Greet Ana", messages[1].(map[string]any)["content"])
	assert.NotContains(t, request, "tools")
}

func TestClient_GenerateToolCalls(t *testing.T) {
	var request struct {
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
		Tools []struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_2","type":"function","function":{"name":"lookup_order","arguments":"{\"order\":\"42\"}"}}]}}]}`))
	}))
	defer server.Close()

	client := llm.NewClient(slog.Default(), server.URL, "m")

	response, err := client.Generate(context.Background(), protocol.ModelRequest{
		Messages: []protocol.ModelMessage{
			{Role: "user", Content: "Where is my order?"},
			{Role: "assistant", ToolCalls: []protocol.ToolCall{{ID: "call_1", Name: "lookup_order", Arguments: map[string]any{"order": "41"}}}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"status":"shipped"}`},
		},
		Tools: []protocol.ToolDefinition{{Name: "lookup_order", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	require.Len(t, response.ToolCalls, 1)
	assert.Equal(t, protocol.ToolCall{ID: "call_2", Name: "lookup_order", Arguments: map[string]any{"order": "42"}}, response.ToolCalls[0])

	require.Len(t, request.Messages, 3)
	assert.JSONEq(t, `{"order":"41"}`, request.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_1", request.Messages[2].ToolCallID)
	require.Len(t, request.Tools, 1)
	assert.Equal(t, "function", request.Tools[0].Type)
	assert.Equal(t, "lookup_order", request.Tools[0].Function.Name)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(t *testing.T, err error)
	}{
		{
			name:   "api error",
			status: http.StatusTooManyRequests,
			body:   "rate limited",
			checkFn: func(t *testing.T, err error) {
				var apiErr *llm.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
			},
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"choices":[]}`,
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, llm.ErrEmptyResponse)
			},
		},
		{
			name:   "invalid json",
			status: http.StatusOK,
			body:   `not json`,
			checkFn: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "invalid model response")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := llm.NewClient(slog.Default(), server.URL, "m").Generate(context.Background(), protocol.ModelRequest{})
			require.Error(t, err)
			tt.checkFn(t, err)
		})
	}
}
