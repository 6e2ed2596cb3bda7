package workerpool

import (
	"context"
	"time"

	"github.com/vnykmshr/dispatch/pkg/metrics"
)

// MetricsPool wraps a WorkerPool with Prometheus metrics collection.
type MetricsPool struct {
	pool     *WorkerPool
	name     string
	registry *metrics.Registry
	enabled  bool
}

var (
	_ Pool                   = (*MetricsPool)(nil)
	_ Pool                   = (*WorkerPool)(nil)
	_ metrics.Instrumentable = (*MetricsPool)(nil)
)

// NewWithMetrics creates a worker pool whose activity is recorded under
// pool_name=name. With metricsConfig.Enabled false it behaves exactly like
// the underlying pool.
func NewWithMetrics(config Config, name string, metricsConfig metrics.Config) (*MetricsPool, error) {
	basePool, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}

	mp := &MetricsPool{
		pool:    basePool,
		name:    name,
		enabled: metricsConfig.Enabled,
	}
	if mp.enabled {
		mp.registry = metricsConfig.Resolve()
		mp.updateMetrics()
	}
	return mp, nil
}

// updateMetrics updates the current state gauges.
func (mp *MetricsPool) updateMetrics() {
	if !mp.enabled {
		return
	}

	mp.registry.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.pool.Size()))
	mp.registry.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.pool.ActiveWorkers()))
	mp.registry.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.pool.QueueSize()))
}

// Submit adds a task to the pool for execution.
func (mp *MetricsPool) Submit(task Task) error {
	if !mp.enabled || task == nil {
		return mp.pool.Submit(task)
	}

	wrappedTask := &metricsTask{
		original:   task,
		pool:       mp,
		submitTime: time.Now(),
	}

	err := mp.pool.Submit(wrappedTask)
	if err != nil {
		mp.registry.TasksRejected.WithLabelValues(mp.name).Inc()
	} else {
		mp.registry.TasksSubmitted.WithLabelValues(mp.name).Inc()
	}
	mp.updateMetrics()

	return err
}

// metricsTask wraps a Task to collect execution metrics.
type metricsTask struct {
	original   Task
	pool       *MetricsPool
	submitTime time.Time
}

// Execute runs the original task and records metrics. A panic is recorded
// and left to propagate to the worker, which contains it.
func (mt *metricsTask) Execute(ctx context.Context) (err error) {
	reg := mt.pool.registry
	name := mt.pool.name

	start := time.Now()
	reg.TaskQueueWait.WithLabelValues(name).Observe(start.Sub(mt.submitTime).Seconds())

	returned := false
	defer func() {
		reg.TaskExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		reg.TasksExecuted.WithLabelValues(name).Inc()

		switch {
		case !returned:
			reg.TasksPanicked.WithLabelValues(name).Inc()
			reg.TasksFailed.WithLabelValues(name).Inc()
		case err != nil:
			reg.TasksFailed.WithLabelValues(name).Inc()
		default:
			reg.TasksCompleted.WithLabelValues(name).Inc()
		}

		mt.pool.updateMetrics()
	}()

	err = mt.original.Execute(ctx)
	returned = true
	return err
}

// Shutdown shuts the pool down and records the outcome.
func (mp *MetricsPool) Shutdown(deadline time.Duration) ShutdownOutcome {
	return mp.ShutdownContext(context.Background(), deadline)
}

// ShutdownContext shuts the pool down and records the outcome, its
// duration and the number of discarded tasks.
func (mp *MetricsPool) ShutdownContext(ctx context.Context, deadline time.Duration) ShutdownOutcome {
	if !mp.enabled {
		return mp.pool.ShutdownContext(ctx, deadline)
	}

	before := mp.pool.Stats().Discarded
	start := time.Now()

	outcome := mp.pool.ShutdownContext(ctx, deadline)

	mp.registry.ShutdownDuration.WithLabelValues(mp.name).Observe(time.Since(start).Seconds())
	mp.registry.ShutdownOutcomes.WithLabelValues(mp.name, outcome.String()).Inc()
	if discarded := mp.pool.Stats().Discarded - before; discarded > 0 {
		mp.registry.TasksDiscarded.WithLabelValues(mp.name).Add(float64(discarded))
	}
	mp.updateMetrics()

	return outcome
}

// Done returns a channel closed once every worker goroutine has exited.
func (mp *MetricsPool) Done() <-chan struct{} {
	return mp.pool.Done()
}

// State returns the lifecycle state.
func (mp *MetricsPool) State() State {
	return mp.pool.State()
}

// Stats returns a snapshot of the pool counters.
func (mp *MetricsPool) Stats() Stats {
	return mp.pool.Stats()
}

// Size returns the number of workers.
func (mp *MetricsPool) Size() int {
	return mp.pool.Size()
}

// Name returns the pool_name label value.
func (mp *MetricsPool) Name() string {
	return mp.name
}

// MetricsEnabled returns true if metrics are being recorded.
func (mp *MetricsPool) MetricsEnabled() bool {
	return mp.enabled
}
