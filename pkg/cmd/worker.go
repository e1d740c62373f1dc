package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/queue"
)

// StartWorker consumes batch requests from bus and starts the waker. Both stop
// when ctx is done.
func StartWorker(
	ctx context.Context,
	logger *slog.Logger,
	bus eventbus.EventSubscriber,
	worker *campaign.Worker,
	waker *campaign.Waker,
) error {
	if err := queue.Consume(bus, worker.Handle); err != nil {
		return fmt.Errorf("failed to register batch handler: %w", err)
	}

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if err := waker.Start(ctx); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Worker started successfully")

	return nil
}
