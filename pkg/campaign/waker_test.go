package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaker_SchedulesDueWaits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)
	h.seed(testutil.CreateWaitFlow("flow-1", "5m"), "c1")

	result := h.start("flow-1", "c1")
	h.runQueued()

	sweep, err := h.waker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Executions)
	assert.Zero(t, sweep.Scheduled)

	h.clock.Advance(6 * time.Minute)

	sweep, err = h.waker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Scheduled)

	h.runQueued()

	assert.Equal(t, models.ExecutionStatusCompleted, h.execution(result.Execution.ID).Status)
}

func TestWaker_ReschedulesLostBatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)
	h.sendsSucceed()
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1", "c2")

	result := h.start("flow-1", "c1", "c2")
	h.queue.drain()

	sweep, err := h.waker.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweep.Scheduled)

	h.clock.Advance(testSettings().ClaimTTL + time.Minute)

	sweep, err = h.waker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Scheduled)

	h.runQueued()

	assert.Equal(t, models.ExecutionStatusCompleted, h.execution(result.Execution.ID).Status)
}

func TestWaker_FinishesIdleExecutions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1")

	result := h.start("flow-1", "c1")

	cursor := h.cursor(result.Execution.ID, "c1")
	cursor.Status = models.CursorStatusCompleted
	require.NoError(t, h.store.CursorRepository().Update(ctx, cursor))

	sweep, err := h.waker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Finished)
	assert.Equal(t, models.ExecutionStatusCompleted, h.execution(result.Execution.ID).Status)
}

func TestWaker_StartRejectsBadSchedule(t *testing.T) {
	settings := testSettings()
	settings.WakeSchedule = "every now and then"

	h := newHarness(t, settings, nil)

	assert.Error(t, h.waker.Start(context.Background()))
}

func TestWaker_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, testSettings(), nil)

	require.NoError(t, h.waker.Start(ctx))
	require.NoError(t, h.waker.Start(ctx))

	h.waker.Stop()
	h.waker.Stop()
}
