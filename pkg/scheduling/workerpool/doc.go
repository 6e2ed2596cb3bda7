/*
Package workerpool runs submitted tasks on a fixed number of worker goroutines
fed by an unbounded FIFO queue, and shuts down in two phases.

A pool never runs more than Size tasks at once. Submit queues the task and
returns immediately; the queue has no capacity limit, so a producer is never
blocked by slow workers.

Basic usage:

	pool, err := workerpool.NewWorkerPool(10)
	if err != nil {
		return err
	}

	for _, addr := range targets {
		addr := addr
		_ = pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
			return probe(ctx, addr)
		}))
	}

	switch pool.Shutdown(60 * time.Second) {
	case workerpool.CleanShutdown:
		// every task ran
	case workerpool.ForcedShutdown:
		// the deadline passed; outstanding work was canceled
	}

Task Interface:

	type Task interface {
		Execute(ctx context.Context) error
	}

The context passed to Execute is canceled only when the pool forces
termination. A task that never looks at it runs to completion.

Failure Isolation:

A task that returns an error or panics is recorded as failed. The worker that
ran it logs the failure as a *errors.TaskError, calls Config.ErrorHandler if
set, and goes on to the next task. Nothing a task does can stop a worker or
reach the submitter.

Shutdown:

Shutdown and ShutdownContext stop accepting tasks (Submit then returns an
error matching errors.ErrPoolClosed) and wait for the queue to empty and the
in-flight tasks to finish:

  - CleanShutdown: everything finished within the deadline.
  - ForcedShutdown: the deadline passed. Queued tasks are discarded and the
    task context is canceled.
  - InterruptedShutdown: the caller's context ended first. Same cancellation
    as forced.

After forcing, Shutdown waits at most Config.ForceGrace for cooperative
workers before returning. Done reports when the last worker has really
exited.

Lifecycle:

	Running --Shutdown--> Draining --drained or forced--> Terminated

Metrics:

NewWithMetrics wraps a pool with Prometheus counters, histograms and gauges
from the metrics package, labelled with the pool name:

	pool, err := workerpool.NewWithMetrics(
		workerpool.DefaultConfig(), "clients", metrics.DefaultConfig())

Thread Safety:

Every method of WorkerPool and MetricsPool is safe for concurrent use.
Concurrent Shutdown calls are serialized and all return the same outcome.
*/
package workerpool
