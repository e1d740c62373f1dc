package cmd

import (
	"log/slog"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/metrics"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/registry"
	"go.opentelemetry.io/otel/trace"
)

// Engine groups the campaign components shared by the api and the worker.
type Engine struct {
	Machine      *execution.Machine
	Validator    *flowgraph.Validator
	Orchestrator *campaign.Orchestrator
	Queue        queue.Queue
}

func NewEngine(
	logger *slog.Logger,
	store persistence.Persistence,
	bus eventbus.EventBus,
	reg *registry.Registry,
	settings campaign.Settings,
	m *metrics.Metrics,
	tracer trace.Tracer,
) *Engine {
	machine := execution.NewMachine(logger, store,
		execution.WithPublisher(bus),
		execution.WithMetrics(m),
	)
	validator := flowgraph.NewValidator(reg)
	jobs := queue.NewEventBusQueue(bus)

	return &Engine{
		Machine:   machine,
		Validator: validator,
		Queue:     jobs,
		Orchestrator: campaign.NewOrchestrator(logger, store, machine, validator, jobs, settings,
			campaign.WithMetrics(m),
			campaign.WithTracer(tracer),
		),
	}
}

// Worker builds a batch worker that reuses the engine's machine and queue.
func (e *Engine) Worker(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	capabilities campaign.Capabilities,
	settings campaign.Settings,
	opts ...campaign.Option,
) *campaign.Worker {
	return campaign.NewWorker(logger, store, reg, e.Machine, e.Queue, capabilities, settings, opts...)
}

// Waker builds the periodic sweep for waiting and stalled contacts.
func (e *Engine) Waker(
	logger *slog.Logger,
	store persistence.Persistence,
	settings campaign.Settings,
	opts ...campaign.Option,
) *campaign.Waker {
	return campaign.NewWaker(logger, store, e.Machine, e.Orchestrator, settings, opts...)
}
