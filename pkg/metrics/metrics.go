// Package metrics exposes Prometheus collectors for the campaign engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courier"

type Metrics struct {
	batches        *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	enqueueErrors  prometheus.Counter
	contacts       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Campaign batches processed, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one campaign batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node executions by node kind and result.",
		}, []string{"kind", "result"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution latency by node kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Webhook tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invocation_duration_seconds",
			Help:      "Webhook tool latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		enqueueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Batches that could not be enqueued after all retries.",
		}),
		contacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contacts_finished_total",
			Help:      "Contacts reaching a terminal cursor status.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_transitions_total",
			Help:      "Execution status transitions by target status.",
		}, []string{"to"}),
	}

	reg.MustRegister(
		m.batches, m.batchDuration,
		m.nodeExecutions, m.nodeDuration,
		m.toolCalls, m.toolDuration,
		m.enqueueErrors, m.contacts, m.transitions,
	)

	return m
}

func (m *Metrics) BatchProcessed(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.batches.WithLabelValues(outcome).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) NodeExecuted(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.nodeExecutions.WithLabelValues(kind, result).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ToolInvoked(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) EnqueueFailed() {
	if m == nil {
		return
	}

	m.enqueueErrors.Inc()
}

func (m *Metrics) ContactFinished(status string) {
	if m == nil {
		return
	}

	m.contacts.WithLabelValues(status).Inc()
}

func (m *Metrics) ExecutionTransitioned(to string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(to).Inc()
}
