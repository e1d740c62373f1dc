package main

import (
	"context"
	"os"
	"slices"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/log"
	"github.com/dukex/courier/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "embedded-worker",
			Usage:   "Process batches and run the waker inside the API process",
			Sources: cli.EnvVars("EMBEDDED_WORKER"),
		},
	}
	flags = slices.Concat(flags, cmd.CommonFlags(), cmd.SettingsFlags(), cmd.CapabilityFlags())

	command := &cli.Command{
		Name:                  "courier-api",
		Usage:                 "Author flows and run campaigns over HTTP",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Courier API")

			settings, err := cmd.SettingsFromCommand(command)
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			m := metrics.New(promRegistry)
			tracer := cmd.NewTracer(ctx, logger, "courier-api")
			registry := cmd.NewRegistry(logger)
			engine := cmd.NewEngine(logger, persistence, eventBus, registry, settings, m, tracer)

			api := NewAPI(logger, persistence, registry, engine, promRegistry)

			if command.Bool("embedded-worker") {
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

				worker := engine.Worker(logger, persistence, registry, capabilities, settings,
					campaign.WithMetrics(m), campaign.WithTracer(tracer), campaign.WithWorkerID("api"))

				waker := engine.Waker(logger, persistence, settings, campaign.WithMetrics(m), campaign.WithTracer(tracer))

				if err := cmd.StartWorker(ctx, logger, eventBus, worker, waker); err != nil {
					return err
				}

				api.WithBatchCallback(worker.Handle)
			}

			if err := api.Start(int(command.Int("port"))); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
