package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultNodes(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterDefaultNodes()

	expectedKinds := []models.NodeKind{
		models.NodeKindAgent,
		models.NodeKindDelay,
		models.NodeKindEnd,
		models.NodeKindImage,
		models.NodeKindInput,
		models.NodeKindMenu,
		models.NodeKindMessage,
		models.NodeKindNote,
		models.NodeKindStart,
		models.NodeKindVideo,
		models.NodeKindWait,
	}

	available := registry.GetAvailableNodes()
	require.Len(t, available, len(expectedKinds))

	for i, factory := range available {
		assert.Equal(t, expectedKinds[i], factory.ID())
		assert.NotEmpty(t, factory.Name())
		assert.NotEmpty(t, factory.Description())
		assert.Equal(t, "object", factory.Schema()["type"])
	}
}

func TestCreateNode(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterDefaultNodes()

	testCases := []struct {
		name   string
		node   *models.Node
		errMsg string
	}{
		{
			name: "message",
			node: &models.Node{ID: "m1", Kind: models.NodeKindMessage, Config: map[string]any{"text": "hello"}},
		},
		{
			name: "menu",
			node: &models.Node{ID: "menu1", Kind: models.NodeKindMenu, Config: map[string]any{
				"text":    "Pick one",
				"choices": []any{map[string]any{"label": "a"}, map[string]any{"label": "b"}},
			}},
		},
		{
			name: "start without config",
			node: &models.Node{ID: "s", Kind: models.NodeKindStart},
		},
		{
			name:   "message without text",
			node:   &models.Node{ID: "m2", Kind: models.NodeKindMessage, Config: map[string]any{}},
			errMsg: "missing required field 'text'",
		},
		{
			name:   "delay with bad unit",
			node:   &models.Node{ID: "d", Kind: models.NodeKindDelay, Config: map[string]any{"amount": 1.0, "unit": "weeks"}},
			errMsg: "invalid unit",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			executor, err := registry.CreateNode(context.Background(), tc.node)
			if tc.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.node.ID, executor.ID())
			assert.Equal(t, tc.node.Kind, executor.Kind())
		})
	}
}

func TestCreateNode_UnknownKind(t *testing.T) {
	registry := NewRegistry(slog.Default())

	_, err := registry.CreateNode(context.Background(), &models.Node{ID: "x", Kind: "teleport"})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestCreateNode_MenuIsBrancher(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterDefaultNodes()

	executor, err := registry.CreateNode(context.Background(), &models.Node{
		ID:   "menu",
		Kind: models.NodeKindMenu,
		Config: map[string]any{
			"text":    "Pick",
			"choices": []any{map[string]any{"label": "yes"}, map[string]any{"label": "no"}},
		},
	})
	require.NoError(t, err)

	brancher, ok := executor.(protocol.Brancher)
	require.True(t, ok)
	assert.Equal(t, []string{"yes", "no"}, brancher.Branches())
}

func TestHealthCheck(t *testing.T) {
	registry := NewRegistry(slog.Default())

	_, ok := registry.HealthCheck()
	assert.False(t, ok)

	registry.RegisterDefaultNodes()

	message, ok := registry.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "11 node kinds registered", message)
}
