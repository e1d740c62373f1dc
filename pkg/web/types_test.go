package web_test

import (
	"errors"
	"testing"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertFieldErrors(t *testing.T, err error, fields []string) {
	t.Helper()

	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)

	errorFields := make(map[string]bool)
	for _, fieldErr := range validationErrors {
		errorFields[fieldErr.Field()] = true
	}

	for _, expectedField := range fields {
		assert.True(t, errorFields[expectedField], "Expected validation error for field %s", expectedField)
	}
}

func TestSaveFlowRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())
	start := &models.Node{ID: "start", Kind: models.NodeKindStart}

	tests := []struct {
		name      string
		request   web.SaveFlowRequest
		wantErr   bool
		errFields []string
	}{
		{
			name:    "valid request",
			request: web.SaveFlowRequest{Name: "Welcome", Nodes: []*models.Node{start}},
		},
		{
			name:      "missing name",
			request:   web.SaveFlowRequest{Nodes: []*models.Node{start}},
			wantErr:   true,
			errFields: []string{"Name"},
		},
		{
			name:      "no nodes",
			request:   web.SaveFlowRequest{Name: "Welcome", Nodes: []*models.Node{}},
			wantErr:   true,
			errFields: []string{"Nodes"},
		},
		{
			name:      "multiple validation errors",
			request:   web.SaveFlowRequest{},
			wantErr:   true,
			errFields: []string{"Name", "Nodes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assertFieldErrors(t, err, tt.errFields)
		})
	}
}

func TestStartExecutionRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name      string
		request   web.StartExecutionRequest
		wantErr   bool
		errFields []string
	}{
		{
			name:    "valid request",
			request: web.StartExecutionRequest{ContactIDs: []string{"c1", "c2"}, BatchSize: 100},
		},
		{
			name:      "no contacts",
			request:   web.StartExecutionRequest{},
			wantErr:   true,
			errFields: []string{"ContactIDs"},
		},
		{
			name:      "blank contact id",
			request:   web.StartExecutionRequest{ContactIDs: []string{"c1", ""}},
			wantErr:   true,
			errFields: []string{"ContactIDs[1]"},
		},
		{
			name:      "negative batch size",
			request:   web.StartExecutionRequest{ContactIDs: []string{"c1"}, BatchSize: -1},
			wantErr:   true,
			errFields: []string{"BatchSize"},
		},
		{
			name:      "batch size too large",
			request:   web.StartExecutionRequest{ContactIDs: []string{"c1"}, BatchSize: 10001},
			wantErr:   true,
			errFields: []string{"BatchSize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assertFieldErrors(t, err, tt.errFields)
		})
	}
}

func TestSaveToolRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	err := v.Struct(web.SaveToolRequest{Name: "lookup", WebhookURL: "https://tools.example.com"})
	require.NoError(t, err)

	err = v.Struct(web.SaveToolRequest{Name: "lookup", WebhookURL: "not a url"})
	assertFieldErrors(t, err, []string{"WebhookURL"})

	err = v.Struct(web.ReplyRequest{})
	assertFieldErrors(t, err, []string{"Text"})
}

func TestSaveFlowRequest_Flow(t *testing.T) {
	t.Parallel()

	req := web.SaveFlowRequest{
		ID:        "welcome",
		Name:      "Welcome",
		Nodes:     []*models.Node{{ID: "start", Kind: models.NodeKindStart}},
		Edges:     []*models.Edge{{Source: "start", Target: "end"}},
		Variables: map[string]any{"brand": "acme"},
	}

	flow := req.Flow()

	assert.Equal(t, "welcome", flow.ID)
	assert.Equal(t, "Welcome", flow.Name)
	assert.Len(t, flow.Nodes, 1)
	assert.Len(t, flow.Edges, 1)
	assert.Equal(t, "acme", flow.Variables["brand"])
	assert.True(t, flow.CreatedAt.IsZero())
}

func TestSaveToolRequest_Tool(t *testing.T) {
	t.Parallel()

	tool := web.SaveToolRequest{
		Name:        "lookup_order",
		Description: "Finds an order",
		WebhookURL:  "https://tools.example.com/orders",
		Headers:     map[string]string{"X-Token": "abc"},
		InputSchema: map[string]any{"type": "object"},
	}.Tool()

	assert.Empty(t, tool.ID)
	assert.Equal(t, "lookup_order", tool.Name)
	assert.Equal(t, "abc", tool.Headers["X-Token"])
	assert.Equal(t, "object", tool.InputSchema["type"])
}

func TestValidationErrorsAreTyped(t *testing.T) {
	t.Parallel()

	err := validator.New().Struct(web.ReplyRequest{})

	var validationErrors validator.ValidationErrors
	assert.True(t, errors.As(err, &validationErrors))
}
