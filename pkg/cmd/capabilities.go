package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/dedupe"
	"github.com/dukex/courier/pkg/llm"
	"github.com/dukex/courier/pkg/messaging"
	"github.com/dukex/courier/pkg/metrics"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/dukex/courier/pkg/tools"
	"go.opentelemetry.io/otel/trace"
)

// CapabilityConfig selects the outbound integrations of a worker.
type CapabilityConfig struct {
	MessagingWebhookURL string
	RedisURL            string
	ModelBaseURL        string
	ModelAPIKey         string
	ModelName           string
	ToolTimeout         time.Duration
}

// NewCapabilities wires the messenger, the model and the tool invoker. Without a
// messaging webhook, messages are only logged. The returned closer releases the
// dedupe connection.
func NewCapabilities(
	ctx context.Context,
	logger *slog.Logger,
	store persistence.Persistence,
	config CapabilityConfig,
	m *metrics.Metrics,
	tracer trace.Tracer,
) (campaign.Capabilities, func() error, error) {
	closer := func() error { return nil }

	var messenger protocol.Messenger
	if config.MessagingWebhookURL != "" {
		messenger = messaging.NewWebhookMessenger(logger, config.MessagingWebhookURL)
	} else {
		logger.Warn("MESSAGING_WEBHOOK_URL not set, outbound messages are only logged")

		messenger = messaging.NewLogMessenger(logger, slog.LevelInfo)
	}

	if config.RedisURL != "" {
		dedupeStore, err := dedupe.NewRedisStoreFromURL(ctx, config.RedisURL)
		if err != nil {
			return campaign.Capabilities{}, closer, fmt.Errorf("failed to create dedupe store: %w", err)
		}

		messenger = dedupe.NewMessenger(logger, messenger, dedupeStore)
		closer = dedupeStore.Close
	}

	capabilities := campaign.Capabilities{
		Messenger: messenger,
		Tools: tools.NewInvoker(logger, store.ToolRepository(), config.ToolTimeout,
			tools.WithMetrics(m),
			tools.WithTracer(tracer),
		),
	}

	if config.ModelBaseURL != "" {
		var opts []llm.Option
		if config.ModelAPIKey != "" {
			opts = append(opts, llm.WithAPIKey(config.ModelAPIKey))
		}

		capabilities.Model = llm.NewClient(logger, config.ModelBaseURL, config.ModelName, opts...)
	}

	return capabilities, closer, nil
}
