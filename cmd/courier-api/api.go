// Package main provides the Courier API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/registry"
	"github.com/dukex/courier/pkg/services"
	"github.com/dukex/courier/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	engine      *cmd.Engine
	gatherer    prometheus.Gatherer
	batches     queue.BatchHandler
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	engine *cmd.Engine,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		engine:      engine,
		gatherer:    gatherer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithBatchCallback mounts the push queue callback, served by an embedded worker.
func (a *API) WithBatchCallback(handler queue.BatchHandler) *API {
	a.batches = handler

	return a
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewFlow(a.persistence, a.engine.Validator),
		services.NewExecution(a.engine.Orchestrator, a.persistence),
		services.NewDirectory(a.persistence, a.validate),
		a.validate,
		a.registry,
	)

	app := fiber.New()
	app.Use(recoverer.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Courier API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	handlers.Register(app)

	if a.batches != nil {
		web.NewQueueHandlers(a.logger, a.batches).Register(app)
	}

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
