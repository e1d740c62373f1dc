package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/otelhelper"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// CommonFlags configures storage, transport and logging.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://... or a directory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// SettingsFlags configures batching and recovery of campaigns.
func SettingsFlags() []cli.Flag {
	defaults := campaign.DefaultSettings()

	return []cli.Flag{
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Contacts per queued batch",
			Value:   defaults.BatchSize,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "max-steps-per-batch",
			Usage:   "Nodes one contact may run before it moves to a continuation batch",
			Value:   defaults.MaxStepsPerBatch,
			Sources: cli.EnvVars("MAX_STEPS_PER_BATCH"),
		},
		&cli.IntFlag{
			Name:    "enqueue-attempts",
			Usage:   "Tries per batch before its contacts are failed",
			Value:   defaults.EnqueueAttempts,
			Sources: cli.EnvVars("ENQUEUE_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "claim-ttl",
			Usage:   "Age after which a running claim is scheduled again",
			Value:   defaults.ClaimTTL,
			Sources: cli.EnvVars("CLAIM_TTL"),
		},
		&cli.StringFlag{
			Name:    "wake-schedule",
			Usage:   "Cron spec of the waker sweep",
			Value:   defaults.WakeSchedule,
			Sources: cli.EnvVars("WAKE_SCHEDULE"),
		},
	}
}

// CapabilityFlags configures the outbound integrations used by nodes.
func CapabilityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "messaging-webhook-url",
			Usage:   "Endpoint receiving outbound messages; messages are logged when empty",
			Sources: cli.EnvVars("MESSAGING_WEBHOOK_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for send dedupe keys; dedupe is off when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "model-base-url",
			Usage:   "Base URL of an OpenAI compatible chat completions API",
			Sources: cli.EnvVars("MODEL_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "model-api-key",
			Usage:   "API key for the model endpoint",
			Sources: cli.EnvVars("MODEL_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "model-name",
			Usage:   "Model used by agent nodes",
			Value:   "gpt-4o-mini",
			Sources: cli.EnvVars("MODEL_NAME"),
		},
		&cli.DurationFlag{
			Name:    "tool-timeout",
			Usage:   "Timeout of one agent tool webhook call",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("TOOL_TIMEOUT"),
		},
	}
}

// SettingsFromCommand reads and validates the campaign settings flags.
func SettingsFromCommand(command *cli.Command) (campaign.Settings, error) {
	defaults := campaign.DefaultSettings()

	settings := campaign.Settings{
		BatchSize:        int(command.Int("batch-size")),
		MaxStepsPerBatch: int(command.Int("max-steps-per-batch")),
		EnqueueAttempts:  int(command.Int("enqueue-attempts")),
		EnqueueBackoff:   defaults.EnqueueBackoff,
		ClaimTTL:         command.Duration("claim-ttl"),
		WakeSchedule:     command.String("wake-schedule"),
	}

	if err := validator.New().Struct(settings); err != nil {
		return settings, fmt.Errorf("invalid campaign settings: %w", err)
	}

	return settings.WithDefaults(), nil
}

func CapabilityConfigFromCommand(command *cli.Command) CapabilityConfig {
	return CapabilityConfig{
		MessagingWebhookURL: command.String("messaging-webhook-url"),
		RedisURL:            command.String("redis-url"),
		ModelBaseURL:        command.String("model-base-url"),
		ModelAPIKey:         command.String("model-api-key"),
		ModelName:           command.String("model-name"),
		ToolTimeout:         command.Duration("tool-timeout"),
	}
}

// NewTracer exports spans over OTLP when OTEL_EXPORTER_OTLP_ENDPOINT is set and
// falls back to the global no-op tracer otherwise.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, logger *slog.Logger, serviceName string) trace.Tracer {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return otelhelper.DefaultTracer()
	}

	tracer, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracer, spans are dropped", "error", err)

		return otelhelper.DefaultTracer()
	}

	return tracer
}
