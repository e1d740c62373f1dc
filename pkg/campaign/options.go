package campaign

import (
	"time"

	"github.com/dukex/courier/pkg/metrics"
	"github.com/dukex/courier/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	workerID string
}

// Option configures the orchestrator, the worker and the waker.
type Option func(*options)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithWorkerID tags logs and spans of a worker process.
func WithWorkerID(id string) Option {
	return func(o *options) { o.workerID = id }
}

func newOptions(opts []Option) options {
	o := options{
		tracer: otelhelper.DefaultTracer(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
