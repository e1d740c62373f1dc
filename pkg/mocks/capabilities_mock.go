package mocks

import (
	"context"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockMessenger is a mock implementation of protocol.Messenger interface.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, message protocol.OutboundMessage) (string, error) {
	args := m.Called(ctx, message)

	return args.String(0), args.Error(1)
}

// MockModel is a mock implementation of protocol.Model interface.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) Generate(ctx context.Context, request protocol.ModelRequest) (protocol.ModelResponse, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(protocol.ModelResponse), args.Error(1)
}

// MockToolInvoker is a mock implementation of protocol.ToolInvoker interface.
type MockToolInvoker struct {
	mock.Mock
}

func (m *MockToolInvoker) Tools(ctx context.Context, ids []string) ([]*models.AITool, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AITool), args.Error(1)
}

func (m *MockToolInvoker) Invoke(
	ctx context.Context,
	tool *models.AITool,
	payload map[string]any,
	callIndex int,
) (*protocol.ToolResult, error) {
	args := m.Called(ctx, tool, payload, callIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.ToolResult), args.Error(1)
}
