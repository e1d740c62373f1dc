package end

import (
	"context"
	"testing"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndNode_Execute(t *testing.T) {
	node := NewEndNode("end", map[string]any{"reason": "converted"})
	assert.Equal(t, models.NodeKindEnd, node.Kind())

	result, err := node.Execute(context.Background(), &protocol.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.ResultCompleted, result.Kind)
	assert.Equal(t, true, result.Output["finished"])
	assert.Equal(t, "converted", result.Output["reason"])

	result, err = NewEndNode("end", map[string]any{}).Execute(context.Background(), &protocol.ExecutionContext{})
	require.NoError(t, err)
	assert.NotContains(t, result.Output, "reason")
}
