package execution

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence/file"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *file.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())

	return NewMachine(logger, store, opts...), store
}

func contactSet(contacts ...*models.Contact) map[string]*models.Contact {
	set := make(map[string]*models.Contact, len(contacts))
	for _, contact := range contacts {
		set[contact.ID] = contact
	}

	return set
}

func startRequest(flow *models.Flow, key string, ids ...string) StartRequest {
	contacts := make([]*models.Contact, 0, len(ids))
	for _, id := range ids {
		contacts = append(contacts, testutil.CreateTestContact(id))
	}

	return StartRequest{Flow: flow, ContactIDs: ids, Contacts: contactSet(contacts...), IdempotencyKey: key}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.ExecutionStatus
		want     bool
	}{
		{models.ExecutionStatusPending, models.ExecutionStatusRunning, true},
		{models.ExecutionStatusRunning, models.ExecutionStatusPaused, true},
		{models.ExecutionStatusPaused, models.ExecutionStatusRunning, true},
		{models.ExecutionStatusPaused, models.ExecutionStatusCancelled, true},
		{models.ExecutionStatusRunning, models.ExecutionStatusFailed, true},
		{models.ExecutionStatusPending, models.ExecutionStatusPaused, false},
		{models.ExecutionStatusPaused, models.ExecutionStatusCompleted, false},
		{models.ExecutionStatusCompleted, models.ExecutionStatusRunning, false},
		{models.ExecutionStatusCancelled, models.ExecutionStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachine_Start(t *testing.T) {
	ctx := context.Background()
	machine, store := newTestMachine(t)
	flow := testutil.CreateMessageFlow("flow-1", "Hi")

	req := startRequest(flow, "key-1", "c1", "c2", "c1")
	req.Contacts["c3"] = testutil.CreateTestContact("c3", testutil.WithContactStatus(models.ContactStatusUnsubscribed))
	req.ContactIDs = append(req.ContactIDs, "c3", "c4")
	req.Variables = map[string]any{"coupon": "X1"}

	result, err := machine.Start(ctx, req)
	require.NoError(t, err)

	assert.False(t, result.Existing)
	assert.Equal(t, []string{"c1", "c2"}, result.Admitted)
	assert.Equal(t, models.ExecutionStatusRunning, result.Execution.Status)
	assert.Equal(t, 4, result.Execution.TotalContacts)
	assert.Equal(t, "X1", result.Execution.Variables["coupon"])
	assert.Equal(t, "test", result.Execution.Variables["env"])
	assert.NotNil(t, result.Execution.StartedAt)

	counts, err := store.CursorRepository().CountByStatus(ctx, result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.CursorStatusPending])
	assert.Equal(t, 2, counts[models.CursorStatusSkipped])

	skipped, err := store.CursorRepository().Get(ctx, result.Execution.ID, "c3")
	require.NoError(t, err)
	assert.Equal(t, "contact is unsubscribed", skipped.Reason)
	assert.Equal(t, "start", skipped.NodeID)

	missing, err := store.CursorRepository().Get(ctx, result.Execution.ID, "c4")
	require.NoError(t, err)
	assert.Equal(t, "contact not found", missing.Reason)

	history, err := machine.ledger.History(ctx, result.Execution.ID, "c3")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.NodeExecutionSkipped, history[0].Status)
}

func TestMachine_Start_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	machine, _ := newTestMachine(t)
	flow := testutil.CreateMessageFlow("flow-1", "Hi")

	first, err := machine.Start(ctx, startRequest(flow, "key-1", "c1"))
	require.NoError(t, err)

	second, err := machine.Start(ctx, startRequest(flow, "key-1", "c1", "c2"))
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.Execution.ID, second.Execution.ID)
	assert.Empty(t, second.Admitted)

	other, err := machine.Start(ctx, startRequest(flow, "key-2", "c1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Execution.ID, other.Execution.ID)
}

func TestMachine_Start_Errors(t *testing.T) {
	ctx := context.Background()
	machine, _ := newTestMachine(t)

	_, err := machine.Start(ctx, startRequest(testutil.CreateMessageFlow("flow-1", "Hi"), "key"))
	assert.ErrorIs(t, err, ErrEmptyContactSet)

	noStart := testutil.NewFlow("flow-2").Node("end", models.NodeKindEnd, nil).Build()
	_, err = machine.Start(ctx, startRequest(noStart, "key", "c1"))
	assert.Error(t, err)
}

func TestMachine_PauseResume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	machine, store := newTestMachine(t, WithClock(func() time.Time { return now }))

	result, err := machine.Start(ctx, startRequest(testutil.CreateWaitFlow("flow-1", "1h"), "key", "c1", "c2", "c3"))
	require.NoError(t, err)

	executionID := result.Execution.ID
	cursors := store.CursorRepository()

	// c2 waits until later, c3 already finished.
	c2, err := cursors.Get(ctx, executionID, "c2")
	require.NoError(t, err)
	later := now.Add(time.Hour)
	c2.Status = models.CursorStatusWaiting
	c2.ResumeAt = &later
	require.NoError(t, cursors.Update(ctx, c2))

	c3, err := cursors.Get(ctx, executionID, "c3")
	require.NoError(t, err)
	c3.Status = models.CursorStatusCompleted
	require.NoError(t, cursors.Update(ctx, c3))

	paused, err := machine.Pause(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	_, err = machine.Pause(ctx, executionID)
	assert.True(t, IsInvalidTransition(err))

	resumed, runnable, err := machine.Resume(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)
	assert.Equal(t, []string{"c1"}, runnable)

	_, _, err = machine.Resume(ctx, executionID)
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_Cancel(t *testing.T) {
	ctx := context.Background()
	machine, store := newTestMachine(t)

	result, err := machine.Start(ctx, startRequest(testutil.CreateMessageFlow("flow-1", "Hi"), "key", "c1", "c2"))
	require.NoError(t, err)

	executionID := result.Execution.ID

	c1, err := store.CursorRepository().Get(ctx, executionID, "c1")
	require.NoError(t, err)
	c1.Status = models.CursorStatusCompleted
	require.NoError(t, store.CursorRepository().Update(ctx, c1))

	cancelled, err := machine.Cancel(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndedAt)

	counts, err := store.CursorRepository().CountByStatus(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.CursorStatusCompleted])
	assert.Equal(t, 1, counts[models.CursorStatusSkipped])

	again, err := machine.Cancel(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, again.Status)

	_, err = machine.Pause(ctx, executionID)
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_Cancel_FinishedExecution(t *testing.T) {
	ctx := context.Background()
	machine, store := newTestMachine(t)

	flow := testutil.CreateMessageFlow("flow-1", "Hi")

	result, err := machine.Start(ctx, startRequest(flow, "key", "c1"))
	require.NoError(t, err)

	require.NoError(t, machine.FailContacts(ctx, flow, result.Execution.ID, []string{"c1"}, errors.New("boom")))

	history, err := machine.ledger.History(ctx, result.Execution.ID, "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.NodeExecutionFailed, history[0].Status)
	assert.Equal(t, models.NodeKindStart, history[0].NodeKind)

	finished, done, err := machine.CheckCompletion(ctx, result.Execution.ID)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)

	_, err = machine.Cancel(ctx, result.Execution.ID)

	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.ExecutionStatusFailed, transitionErr.From)

	cursor, err := store.CursorRepository().Get(ctx, result.Execution.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "boom", cursor.Reason)
}

func TestMachine_CheckCompletion(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		statuses []models.CursorStatus
		want     models.ExecutionStatus
		done     bool
	}{
		{
			name:     "active contacts keep it running",
			statuses: []models.CursorStatus{models.CursorStatusCompleted, models.CursorStatusWaiting},
			want:     models.ExecutionStatusRunning,
		},
		{
			name:     "all completed",
			statuses: []models.CursorStatus{models.CursorStatusCompleted, models.CursorStatusCompleted},
			want:     models.ExecutionStatusCompleted,
			done:     true,
		},
		{
			name:     "half failed still completes",
			statuses: []models.CursorStatus{models.CursorStatusCompleted, models.CursorStatusFailed},
			want:     models.ExecutionStatusCompleted,
			done:     true,
		},
		{
			name: "majority failed",
			statuses: []models.CursorStatus{
				models.CursorStatusCompleted, models.CursorStatusFailed, models.CursorStatusFailed,
			},
			want: models.ExecutionStatusFailed,
			done: true,
		},
		{
			name: "skipped contacts do not count",
			statuses: []models.CursorStatus{
				models.CursorStatusCompleted, models.CursorStatusSkipped, models.CursorStatusSkipped,
			},
			want: models.ExecutionStatusCompleted,
			done: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, store := newTestMachine(t)

			ids := make([]string, len(tt.statuses))
			for i := range tt.statuses {
				ids[i] = string(rune('a' + i))
			}

			result, err := machine.Start(ctx, startRequest(testutil.CreateMessageFlow("flow-1", "Hi"), "key", ids...))
			require.NoError(t, err)

			for i, status := range tt.statuses {
				cursor, err := store.CursorRepository().Get(ctx, result.Execution.ID, ids[i])
				require.NoError(t, err)

				cursor.Status = status
				require.NoError(t, store.CursorRepository().Update(ctx, cursor))
			}

			execution, done, err := machine.CheckCompletion(ctx, result.Execution.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.done, done)
			assert.Equal(t, tt.want, execution.Status)

			if tt.want == models.ExecutionStatusFailed {
				assert.NotEmpty(t, execution.ErrorMessage)
			}
		})
	}
}

func TestMachine_CheckCompletion_NotRunning(t *testing.T) {
	ctx := context.Background()
	machine, _ := newTestMachine(t)

	result, err := machine.Start(ctx, startRequest(testutil.CreateMessageFlow("flow-1", "Hi"), "key", "c1"))
	require.NoError(t, err)

	_, err = machine.Cancel(ctx, result.Execution.ID)
	require.NoError(t, err)

	execution, done, err := machine.CheckCompletion(ctx, result.Execution.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
}

func TestMachine_PublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	bus := new(mocks.MockEventBus)
	machine, _ := newTestMachine(t, WithPublisher(bus))

	var published []events.EventType

	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			event := args.Get(2).(interface{ GetType() events.EventType })
			published = append(published, event.GetType())
		}).
		Return(nil)

	result, err := machine.Start(ctx, startRequest(testutil.CreateMessageFlow("flow-1", "Hi"), "key", "c1"))
	require.NoError(t, err)

	_, err = machine.Pause(ctx, result.Execution.ID)
	require.NoError(t, err)

	_, _, err = machine.Resume(ctx, result.Execution.ID)
	require.NoError(t, err)

	_, err = machine.Cancel(ctx, result.Execution.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionPausedEvent,
		events.ExecutionResumedEvent,
		events.ExecutionCancelledEvent,
	}, published)
}

func TestOutcome(t *testing.T) {
	status, message := Outcome(map[models.CursorStatus]int{models.CursorStatusSkipped: 3})
	assert.Equal(t, models.ExecutionStatusCompleted, status)
	assert.Empty(t, message)

	status, message = Outcome(map[models.CursorStatus]int{
		models.CursorStatusFailed:    3,
		models.CursorStatusCompleted: 1,
	})
	assert.Equal(t, models.ExecutionStatusFailed, status)
	assert.Equal(t, "3 of 4 contacts failed", message)
}
