package metrics

import (
	"github.com/Layr-Labs/eigensdk-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the executor, the listener and the queue worker report
// into. A nil *WorkerMetrics is a valid no-op recorder.
type Recorder interface {
	IncJobProcessed(status string)
	IncNodeExecution(nodeType, status string)
	AddListenerEvents(network string, count int)
	IncRPCRetry(network string)
}

// WorkerMetrics contains instrumented metrics of the chainflow worker, on
// top of the eigen sdk registry that serves /metrics
type WorkerMetrics struct {
	metrics.Metrics

	jobsProcessed  *prometheus.CounterVec
	nodeExecutions *prometheus.CounterVec
	listenerEvents *prometheus.CounterVec
	rpcRetries     *prometheus.CounterVec
}

const cfNamespace = "chainflow"

func NewWorkerMetrics(eigenMetrics metrics.Metrics, reg prometheus.Registerer) *WorkerMetrics {
	return &WorkerMetrics{
		Metrics: eigenMetrics,

		jobsProcessed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfNamespace,
				Name:      "jobs_processed_total",
				Help:      "The number of queue jobs performed, by outcome",
			}, []string{"status"}),

		nodeExecutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfNamespace,
				Name:      "node_executions_total",
				Help:      "The number of node executions by node type and outcome",
			}, []string{"type", "status"}),

		listenerEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfNamespace,
				Name:      "listener_events_total",
				Help:      "The number of wallet events emitted by listener nodes",
			}, []string{"network"}),

		rpcRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfNamespace,
				Name:      "rpc_retries_total",
				Help:      "The number of rpc calls retried after a transient failure",
			}, []string{"network"}),
	}
}

func (m *WorkerMetrics) IncJobProcessed(status string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(status).Inc()
}

func (m *WorkerMetrics) IncNodeExecution(nodeType, status string) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
}

func (m *WorkerMetrics) AddListenerEvents(network string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.listenerEvents.WithLabelValues(network).Add(float64(count))
}

func (m *WorkerMetrics) IncRPCRetry(network string) {
	if m == nil {
		return
	}
	m.rpcRetries.WithLabelValues(network).Inc()
}
