package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventBusQueue_Enqueue(t *testing.T) {
	bus := &mocks.MockEventBus{}
	job := models.BatchJob{ExecutionID: "exec-1", ContactIDs: []string{"c1", "c2"}, Sequence: 2}

	bus.On("Publish", mock.Anything, "exec-1", mock.MatchedBy(func(event eventbus.Event) bool {
		request, ok := event.(*events.CampaignBatchRequested)

		return ok && request.Job.Sequence == 2 && len(request.Job.ContactIDs) == 2
	})).Return(nil)

	err := NewEventBusQueue(bus).Enqueue(context.Background(), job)
	require.NoError(t, err)
	bus.AssertExpectations(t)
}

func TestEventBusQueue_EnqueueErrors(t *testing.T) {
	bus := &mocks.MockEventBus{}
	q := NewEventBusQueue(bus)

	err := q.Enqueue(context.Background(), models.BatchJob{ExecutionID: "exec-1"})
	require.Error(t, err)

	bus.On("Publish", mock.Anything, "exec-1", mock.Anything).Return(errors.New("broker down"))

	err = q.Enqueue(context.Background(), models.BatchJob{ExecutionID: "exec-1", ContactIDs: []string{"c1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestConsume(t *testing.T) {
	bus := &mocks.MockEventBus{}

	var registered eventbus.EventHandler

	bus.On("Handle", events.CampaignBatchRequestedEvent, mock.Anything).
		Run(func(args mock.Arguments) { registered = args.Get(1).(eventbus.EventHandler) }).
		Return(nil)

	var got models.BatchJob

	require.NoError(t, Consume(bus, func(_ context.Context, job models.BatchJob) error {
		got = job

		return nil
	}))
	require.NotNil(t, registered)

	job := models.BatchJob{ExecutionID: "exec-1", ContactIDs: []string{"c1"}}
	require.NoError(t, registered(context.Background(), events.NewCampaignBatchRequested(job)))
	assert.Equal(t, job, got)

	assert.Error(t, registered(context.Background(), &events.ExecutionPaused{}))
}
