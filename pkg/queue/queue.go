// Package queue is the enqueue/receive contract for campaign batches on top of
// the event bus. Delivery is at-least-once and unordered.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/models"
)

// Queue accepts batch jobs for later delivery to a worker.
type Queue interface {
	Enqueue(ctx context.Context, job models.BatchJob) error
}

// BatchHandler processes one delivered job. An error asks the transport to
// deliver it again.
type BatchHandler func(ctx context.Context, job models.BatchJob) error

type EventBusQueue struct {
	bus eventbus.EventPublisher
}

func NewEventBusQueue(bus eventbus.EventPublisher) *EventBusQueue {
	return &EventBusQueue{bus: bus}
}

// Enqueue publishes the job keyed by execution id so a partitioned transport
// keeps one execution's batches on the same partition.
func (q *EventBusQueue) Enqueue(ctx context.Context, job models.BatchJob) error {
	if len(job.ContactIDs) == 0 {
		return errors.New("batch job has no contacts")
	}

	if err := q.bus.Publish(ctx, job.ExecutionID, events.NewCampaignBatchRequested(job)); err != nil {
		return fmt.Errorf("failed to publish batch %d of execution %s: %w", job.Sequence, job.ExecutionID, err)
	}

	return nil
}

// Consume registers handler for batch requests on bus. The caller still has to
// call Subscribe.
func Consume(bus eventbus.EventSubscriber, handler BatchHandler) error {
	return bus.Handle(events.CampaignBatchRequestedEvent, func(ctx context.Context, event any) error {
		request, ok := event.(*events.CampaignBatchRequested)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		return handler(ctx, request.Job)
	})
}
