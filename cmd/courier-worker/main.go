// Package main provides the Courier batch worker.
package main

import (
	"context"
	"os"
	"slices"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/log"
	"github.com/dukex/courier/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port for health, metrics and the queue callback (0 disables HTTP)",
			Value:   0,
			Sources: cli.EnvVars("PORT"),
		},
	}
	flags = slices.Concat(flags, cmd.CommonFlags(), cmd.SettingsFlags(), cmd.CapabilityFlags())

	command := &cli.Command{
		Name:                  "courier-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to advance campaign contacts",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("courier-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Courier Worker")

			settings, err := cmd.SettingsFromCommand(command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Campaign settings", "settings", settings.String())

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			m := metrics.New(promRegistry)
			tracer := cmd.NewTracer(ctx, logger, "courier-worker")
			registry := cmd.NewRegistry(logger)
			engine := cmd.NewEngine(logger, persistence, eventBus, registry, settings, m, tracer)

			capabilities, closeCapabilities, err := cmd.NewCapabilities(ctx, logger, persistence,
				cmd.CapabilityConfigFromCommand(command), m, tracer)
			if err != nil {
				return err
			}

			defer func() {
				if err := closeCapabilities(); err != nil {
					logger.ErrorContext(ctx, "Failed to close capabilities", "error", err)
				}
			}()

			options := []campaign.Option{
				campaign.WithMetrics(m),
				campaign.WithTracer(tracer),
				campaign.WithWorkerID(workerID),
			}

			manager := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				logger,
				engine.Worker(logger, persistence, registry, capabilities, settings, options...),
				engine.Waker(logger, persistence, settings, options...),
				promRegistry,
			)

			return manager.Run(ctx, int(command.Int("port")))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
