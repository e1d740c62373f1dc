package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_StartPartitionsBatches(t *testing.T) {
	settings := testSettings()
	settings.BatchSize = 2

	h := newHarness(t, settings, nil)
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1", "c2", "c3", "c4", "c5")

	result := h.start("flow-1", "c1", "c2", "c3", "c4", "c5")

	assert.Equal(t, 3, result.Batches)
	assert.Empty(t, result.Unqueued)
	assert.Equal(t, models.ExecutionStatusRunning, result.Execution.Status)

	jobs := h.queue.drain()
	require.Len(t, jobs, 3)

	for i, job := range jobs {
		assert.Equal(t, i, job.Sequence)
		assert.Equal(t, result.Execution.ID, job.ExecutionID)
	}

	assert.Equal(t, []string{"c1", "c2"}, jobs[0].ContactIDs)
	assert.Equal(t, []string{"c5"}, jobs[2].ContactIDs)
}

func TestOrchestrator_StartIsIdempotent(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1")

	first := h.start("flow-1", "c1")
	h.queue.drain()

	second := h.start("flow-1", "c1")

	assert.True(t, second.Existing)
	assert.Equal(t, first.Execution.ID, second.Execution.ID)
	assert.Zero(t, second.Batches)
	assert.Empty(t, h.queue.drain())
}

func TestOrchestrator_StartErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)

	_, err := h.orchestrator.StartCampaignExecution(ctx, StartRequest{FlowID: "missing", ContactIDs: []string{"c1"}})
	assert.True(t, persistence.IsFlowNotFound(err))

	invalid := testutil.NewFlow("broken").
		Node("start", models.NodeKindStart, nil).
		Node("other-start", models.NodeKindStart, nil).
		Node("end", models.NodeKindEnd, nil).
		Chain("start", "end").
		Build()
	h.seed(invalid)

	_, err = h.orchestrator.StartCampaignExecution(ctx, StartRequest{FlowID: "broken", ContactIDs: []string{"c1"}})
	assert.True(t, flowgraph.IsInvalidGraph(err))

	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"))

	_, err = h.orchestrator.StartCampaignExecution(ctx, StartRequest{FlowID: "flow-1"})
	assert.ErrorIs(t, err, execution.ErrEmptyContactSet)
}

func TestOrchestrator_AllContactsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"))

	require.NoError(t, h.store.ContactRepository().Save(ctx,
		testutil.CreateTestContact("gone", testutil.WithContactStatus(models.ContactStatusUnsubscribed))))

	result := h.start("flow-1", "gone")

	assert.Equal(t, models.ExecutionStatusCompleted, result.Execution.Status)
	assert.Empty(t, h.queue.drain())
}

func TestOrchestrator_UnqueueableBatchFailsItsContacts(t *testing.T) {
	settings := testSettings()
	settings.BatchSize = 2
	settings.EnqueueAttempts = 3

	jobs := new(mocks.MockQueue)
	jobs.On("Enqueue", mock.Anything, mock.MatchedBy(func(job models.BatchJob) bool { return job.Sequence == 1 })).
		Return(errors.New("broker down"))
	jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	h := newHarness(t, settings, jobs)
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1", "c2", "c3", "c4")

	result := h.start("flow-1", "c1", "c2", "c3", "c4")

	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, []string{"c3", "c4"}, result.Unqueued)
	assert.Equal(t, models.ExecutionStatusRunning, result.Execution.Status)

	calls := 0

	for _, call := range jobs.Calls {
		if call.Arguments.Get(1).(models.BatchJob).Sequence == 1 {
			calls++
		}
	}

	assert.Equal(t, 3, calls)

	for _, contactID := range []string{"c3", "c4"} {
		cursor := h.cursor(result.Execution.ID, contactID)
		assert.Equal(t, models.CursorStatusFailed, cursor.Status)
		assert.Contains(t, cursor.Reason, "broker down")

		history := h.history(result.Execution.ID, contactID)
		require.Len(t, history, 1)
		assert.Equal(t, models.NodeExecutionFailed, history[0].Status)
	}

	assert.Equal(t, models.CursorStatusPending, h.cursor(result.Execution.ID, "c1").Status)
}

func TestEnqueueError(t *testing.T) {
	err := error(&EnqueueError{ExecutionID: "e1", Sequence: 2, ContactIDs: []string{"a"}, Attempts: 5, Err: errors.New("boom")})

	assert.True(t, IsEnqueueError(err))
	assert.Contains(t, err.Error(), "batch 2 of execution e1")
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestOrchestrator_PauseResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)
	h.sendsSucceed()
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1", "c2")

	result := h.start("flow-1", "c1", "c2")
	jobs := h.queue.drain()
	require.Len(t, jobs, 1)

	paused, err := h.orchestrator.Pause(ctx, result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	batch, err := h.worker.ProcessBatch(ctx, jobs[0])
	require.NoError(t, err)
	assert.True(t, batch.Ignored)
	h.messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	resumed, err := h.orchestrator.Resume(ctx, result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)

	h.runQueued()

	assert.Equal(t, models.ExecutionStatusCompleted, h.execution(result.Execution.ID).Status)
	h.messenger.AssertNumberOfCalls(t, "Send", 2)

	_, err = h.orchestrator.Resume(ctx, result.Execution.ID)
	assert.True(t, execution.IsInvalidTransition(err))
}

// dripFlow sends three messages in a row.
func dripFlow(id string) *models.Flow {
	return testutil.NewFlow(id).
		Node("start", models.NodeKindStart, nil).
		Node("m1", models.NodeKindMessage, map[string]any{"text": "one"}).
		Node("m2", models.NodeKindMessage, map[string]any{"text": "two"}).
		Node("m3", models.NodeKindMessage, map[string]any{"text": "three"}).
		Node("end", models.NodeKindEnd, nil).
		Chain("start", "m1", "m2", "m3", "end").
		Build()
}

func TestOrchestrator_PauseResumeMidGraph(t *testing.T) {
	ctx := context.Background()

	baseline := newHarness(t, testSettings(), nil)
	baseline.sendsSucceed()
	baseline.seed(dripFlow("drip"), "c1", "c2")
	expected := baseline.start("drip", "c1", "c2")
	baseline.runQueued()

	h := newHarness(t, testSettings(), nil)
	h.seed(dripFlow("drip"), "c1", "c2")
	result := h.start("drip", "c1", "c2")

	var pauseOnce sync.Once

	h.messenger.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil).Run(func(mock.Arguments) {
		pauseOnce.Do(func() {
			_, err := h.orchestrator.Pause(ctx, result.Execution.ID)
			require.NoError(t, err)
		})
	})

	batches := h.runQueued()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Processed)
	assert.Empty(t, batches[0].Continuation)

	assert.Equal(t, models.ExecutionStatusPaused, h.execution(result.Execution.ID).Status)
	h.messenger.AssertNumberOfCalls(t, "Send", 1)

	cursor := h.cursor(result.Execution.ID, "c1")
	assert.Equal(t, models.CursorStatusPending, cursor.Status)
	assert.Equal(t, "m2", cursor.NodeID)
	assert.Equal(t, "start", h.cursor(result.Execution.ID, "c2").NodeID)

	_, err := h.orchestrator.Resume(ctx, result.Execution.ID)
	require.NoError(t, err)
	h.runQueued()

	assert.Equal(t, models.ExecutionStatusCompleted, h.execution(result.Execution.ID).Status)
	h.messenger.AssertNumberOfCalls(t, "Send", 6)

	for _, contactID := range []string{"c1", "c2"} {
		want := baseline.cursor(expected.Execution.ID, contactID)
		got := h.cursor(result.Execution.ID, contactID)

		assert.Equal(t, want.Status, got.Status, contactID)
		assert.Equal(t, want.NodeID, got.NodeID, contactID)
		assert.Equal(t, want.Step, got.Step, contactID)
		assert.Len(t, h.history(result.Execution.ID, contactID), len(baseline.history(expected.Execution.ID, contactID)))
	}
}

func TestOrchestrator_Cancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSettings(), nil)
	h.seed(testutil.CreateMessageFlow("flow-1", "Hi"), "c1")

	result := h.start("flow-1", "c1")

	cancelled, err := h.orchestrator.Cancel(ctx, result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)

	for _, job := range h.queue.drain() {
		batch, err := h.worker.ProcessBatch(ctx, job)
		require.NoError(t, err)
		assert.True(t, batch.Ignored)
	}

	_, counts, err := h.orchestrator.Status(ctx, result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.CursorStatusSkipped])
}
