package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	worker      *campaign.Worker
	waker       *campaign.Waker
	gatherer    prometheus.Gatherer
	app         *fiber.App
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	worker *campaign.Worker,
	waker *campaign.Waker,
	gatherer prometheus.Gatherer,
) *WorkerManager {
	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "courier-worker", "worker_id", id),
		persistence: persistence,
		eventBus:    eventBus,
		worker:      worker,
		waker:       waker,
		gatherer:    gatherer,
	}
}

// App serves liveness, metrics and the push queue callback.
func (w *WorkerManager) App() *fiber.App {
	app := fiber.New()
	app.Use(recoverer.New())

	app.Get("/health", func(c fiber.Ctx) error {
		if err := w.persistence.HealthCheck(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "healthy", "worker_id": w.id})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(w.gatherer, promhttp.HandlerOpts{})))

	web.NewQueueHandlers(w.logger, w.worker.Handle).Register(app)

	return app
}

// Start subscribes to batch requests, starts the waker and, when port is set,
// the HTTP endpoints. It does not block.
func (w *WorkerManager) Start(ctx context.Context, port int) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := cmd.StartWorker(ctx, w.logger, w.eventBus, w.worker, w.waker); err != nil {
		w.logger.ErrorContext(ctx, "Failed to start worker", "error", err)

		return err
	}

	if port > 0 {
		w.app = w.App()

		go func() {
			err := w.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.logger.ErrorContext(ctx, "Worker HTTP server stopped", "error", err)
			}
		}()
	}

	return nil
}

// Stop halts the waker and the HTTP endpoints. In-flight batches are left to the
// transport, which redelivers unacknowledged ones.
func (w *WorkerManager) Stop(ctx context.Context) {
	w.waker.Stop()

	if w.app != nil {
		if err := w.app.ShutdownWithContext(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to stop worker HTTP server", "error", err)
		}
	}

	w.logger.InfoContext(ctx, "Worker stopped")
}

// Run starts the manager and blocks until SIGINT, SIGTERM or ctx is done.
func (w *WorkerManager) Run(ctx context.Context, port int) error {
	if err := w.Start(ctx, port); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")
	w.Stop(context.WithoutCancel(ctx))

	return nil
}
