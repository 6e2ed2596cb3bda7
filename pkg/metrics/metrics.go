// Package metrics provides Prometheus instrumentation for dispatch components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for dispatch components.
type Registry struct {
	// Worker Pool Metrics
	WorkerPoolSize   *prometheus.GaugeVec
	WorkerPoolActive *prometheus.GaugeVec
	WorkerPoolQueued *prometheus.GaugeVec

	// Task Metrics
	TasksSubmitted        *prometheus.CounterVec
	TasksRejected         *prometheus.CounterVec
	TasksExecuted         *prometheus.CounterVec
	TasksCompleted        *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TasksPanicked         *prometheus.CounterVec
	TasksDiscarded        *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec
	TaskQueueWait         *prometheus.HistogramVec

	// Shutdown Metrics
	ShutdownOutcomes *prometheus.CounterVec
	ShutdownDuration *prometheus.HistogramVec

	// Probe Metrics
	ProbeExchanges *prometheus.CounterVec
	ProbeLatency   *prometheus.HistogramVec
}

// DefaultRegistry is the registry used when no registerer is configured.
// Its metrics are registered with prometheus.DefaultRegisterer.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer, DefaultNamespace)
}

// NewRegistry creates a new metrics registry with the given Prometheus
// registerer. A nil registerer creates unregistered collectors.
func NewRegistry(reg prometheus.Registerer, namespace string) *Registry {
	factory := promauto.With(reg)
	pool := []string{"pool_name"}

	return &Registry{
		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Fixed number of workers in the pool",
			},
			pool,
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of workers currently executing a task",
			},
			pool,
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of tasks waiting in the queue",
			},
			pool,
		),

		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks accepted into the queue",
			},
			pool,
		),

		TasksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_rejected_total",
				Help:      "Total number of submissions refused by the pool",
			},
			pool,
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed, successful or not",
			},
			pool,
		),

		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks completed successfully",
			},
			pool,
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that returned an error or panicked",
			},
			pool,
		),

		TasksPanicked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_panicked_total",
				Help:      "Total number of tasks that panicked",
			},
			pool,
		),

		TasksDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_discarded_total",
				Help:      "Total number of queued tasks dropped by forced shutdown",
			},
			pool,
		),

		TaskExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks",
				Buckets:   prometheus.DefBuckets,
			},
			pool,
		),

		TaskQueueWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "task_queue_wait_seconds",
				Help:      "Time tasks spent queued before a worker claimed them",
				Buckets:   prometheus.DefBuckets,
			},
			pool,
		),

		ShutdownOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "shutdowns_total",
				Help:      "Total number of pool shutdowns by outcome",
			},
			[]string{"pool_name", "outcome"},
		),

		ShutdownDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "shutdown_duration_seconds",
				Help:      "Time spent in Shutdown until it returned",
				Buckets:   prometheus.DefBuckets,
			},
			pool,
		),

		ProbeExchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "exchanges_total",
				Help:      "Total number of request/response exchanges by result",
			},
			[]string{"target", "result"},
		),

		ProbeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "exchange_duration_seconds",
				Help:      "Time from dial to response for successful exchanges",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),
	}
}
