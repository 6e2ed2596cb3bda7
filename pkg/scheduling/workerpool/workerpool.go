package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	dscontext "github.com/vnykmshr/dispatch/pkg/common/context"
	dserrors "github.com/vnykmshr/dispatch/pkg/common/errors"
)

// Submit adds a task to the pool for execution.
// It returns as soon as the task is queued; the queue is unbounded so Submit
// never waits for capacity. Once shutdown has begun it returns an error
// matching ErrPoolClosed and the task is never run.
func (p *WorkerPool) Submit(task Task) error {
	if task == nil {
		return dserrors.ErrNilTask
	}

	qt := queuedTask{
		id:       p.nextID.Add(1),
		task:     task,
		enqueued: time.Now(),
	}
	if !p.queue.push(qt, func() { p.submitted.Add(1) }) {
		return fmt.Errorf("cannot submit task: %w", dserrors.ErrPoolClosed)
	}
	return nil
}

// Shutdown stops accepting tasks and waits up to deadline for queued and
// in-flight tasks to finish. See ShutdownContext.
func (p *WorkerPool) Shutdown(deadline time.Duration) ShutdownOutcome {
	return p.ShutdownContext(context.Background(), deadline)
}

// ShutdownContext moves the pool from Running to Draining and waits for the
// drain to complete.
//
// If every task finishes within deadline the outcome is CleanShutdown. If
// the deadline elapses first, queued tasks are discarded, in-flight tasks
// have their context canceled, and the outcome is ForcedShutdown. If ctx
// ends first the same forced cancellation happens and the outcome is
// InterruptedShutdown. A deadline of zero or less does not wait at all.
//
// The pool is Terminated when ShutdownContext returns. Cancellation is
// cooperative: a task that ignores its context keeps its worker busy until
// it returns, which Done reports. Later calls return the first outcome.
func (p *WorkerPool) ShutdownContext(ctx context.Context, deadline time.Duration) ShutdownOutcome {
	if ctx == nil {
		ctx = context.Background()
	}

	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()

	if p.shutdownDone {
		return p.outcome
	}

	start := time.Now()
	p.state.Store(int32(Draining))
	p.queue.close()
	p.logger.Info("worker pool draining",
		"deadline", deadline,
		"queued", p.queue.len(),
		"active", p.active.Load(),
	)

	outcome := p.awaitDrain(ctx, deadline)
	if outcome != CleanShutdown {
		p.force(outcome)
	} else {
		p.cancelRun()
		p.awaitExit()
	}

	p.state.Store(int32(Terminated))
	p.outcome = outcome
	p.shutdownDone = true

	attrs := []any{
		"outcome", outcome.String(),
		"elapsed", time.Since(start),
		"completed", p.completed.Load(),
		"failed", p.failed.Load(),
		"discarded", p.discarded.Load(),
	}
	if outcome == InterruptedShutdown {
		attrs = append(attrs, "reason", dscontext.Reason(ctx))
	}
	if outcome == CleanShutdown {
		p.logger.Info("worker pool shut down cleanly", attrs...)
	} else {
		p.logger.Warn("worker pool did not terminate in time", attrs...)
	}
	return outcome
}

// awaitDrain blocks until the workers exit, the deadline passes or ctx ends.
func (p *WorkerPool) awaitDrain(ctx context.Context, deadline time.Duration) ShutdownOutcome {
	if deadline <= 0 {
		if p.pending() == 0 {
			return CleanShutdown
		}
		return ForcedShutdown
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	outcome := CleanShutdown
	select {
	case <-p.done:
		return CleanShutdown
	case <-timer.C:
		outcome = ForcedShutdown
	case <-ctx.Done():
		outcome = InterruptedShutdown
	}

	// Drain may have finished at the same instant, or every task may have
	// run with only idle workers still on their way out.
	select {
	case <-p.done:
		return CleanShutdown
	default:
		if p.pending() == 0 && p.active.Load() == 0 {
			return CleanShutdown
		}
		return outcome
	}
}

// force discards queued tasks, cancels in-flight ones and waits briefly for
// workers that honour cancellation.
func (p *WorkerPool) force(outcome ShutdownOutcome) {
	p.forceOnce.Do(func() {
		close(p.forceCh)
		p.cancelRun()
	})

	if n := p.queue.drain(); n > 0 {
		p.discarded.Add(int64(n))
		p.logger.Warn("discarded queued tasks", "count", n, "outcome", outcome.String())
	}

	if !p.awaitExit() {
		p.logger.Warn("workers still busy after forced cancellation",
			"active", p.active.Load(),
			"grace", p.config.ForceGrace,
		)
	}
}

// awaitExit waits up to ForceGrace for every worker to exit.
func (p *WorkerPool) awaitExit() bool {
	grace := time.NewTimer(p.config.ForceGrace)
	defer grace.Stop()

	select {
	case <-p.done:
		return true
	case <-grace.C:
		return false
	}
}

func (p *WorkerPool) forced() bool {
	select {
	case <-p.forceCh:
		return true
	default:
		return false
	}
}

// pending counts tasks accepted but not yet executed or discarded.
func (p *WorkerPool) pending() int64 {
	return p.submitted.Load() - p.completed.Load() - p.discarded.Load()
}

// Done returns a channel closed once every worker goroutine has exited.
func (p *WorkerPool) Done() <-chan struct{} {
	return p.done
}

// State returns the lifecycle state.
func (p *WorkerPool) State() State {
	return State(p.state.Load())
}

// Size returns the number of workers in the pool.
func (p *WorkerPool) Size() int {
	return p.config.Size
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *WorkerPool) QueueSize() int {
	return p.queue.len()
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *WorkerPool) ActiveWorkers() int {
	return int(p.active.Load())
}

// TotalSubmitted returns the total number of tasks accepted by the pool.
func (p *WorkerPool) TotalSubmitted() int64 {
	return p.submitted.Load()
}

// TotalCompleted returns the total number of tasks executed, successful or not.
func (p *WorkerPool) TotalCompleted() int64 {
	return p.completed.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		State:     p.State(),
		Size:      p.config.Size,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Discarded: p.discarded.Load(),
		Active:    p.active.Load(),
		Queued:    p.queue.len(),
	}
}

// run is the main loop for a worker.
func (w *worker) run() {
	p := w.pool
	defer p.workerWg.Done()

	if p.config.OnWorkerStart != nil {
		w.callHook("OnWorkerStart", func() { p.config.OnWorkerStart(w.id) })
	}
	if p.config.OnWorkerStop != nil {
		defer w.callHook("OnWorkerStop", func() { p.config.OnWorkerStop(w.id) })
	}

	for {
		qt, ok := p.queue.pop(p.forceCh)
		if !ok {
			return
		}
		if p.forced() {
			// Claimed in the same instant as forced cancellation.
			p.discarded.Add(1)
			return
		}

		w.executeTask(qt)

		if p.forced() {
			return
		}
	}
}

// executeTask executes a single task and records its outcome.
func (w *worker) executeTask(qt queuedTask) {
	p := w.pool
	start := time.Now()

	p.active.Add(1)
	if p.config.OnTaskStart != nil {
		w.callHook("OnTaskStart", func() { p.config.OnTaskStart(w.id, qt.id) })
	}

	taskErr := w.invoke(qt)
	duration := time.Since(start)

	var err error
	if taskErr != nil {
		err = taskErr
		w.recordFailure(taskErr)
	} else {
		p.succeeded.Add(1)
	}
	p.completed.Add(1)
	p.active.Add(-1)

	if p.config.OnTaskComplete != nil {
		result := Result{
			TaskID:    qt.id,
			WorkerID:  w.id,
			Err:       err,
			Duration:  duration,
			QueueWait: start.Sub(qt.enqueued),
		}
		w.callHook("OnTaskComplete", func() { p.config.OnTaskComplete(result) })
	}
}

// invoke runs the task, converting a returned error or a panic into a
// *TaskError. Nothing the task does escapes this call.
func (w *worker) invoke(qt queuedTask) (err *dserrors.TaskError) {
	defer func() {
		if r := recover(); r != nil {
			err = &dserrors.TaskError{
				TaskID:   qt.id,
				WorkerID: w.id,
				Err:      fmt.Errorf("panic: %v", r),
				Panicked: true,
				Stack:    string(debug.Stack()),
			}
		}
	}()

	if taskErr := qt.task.Execute(w.pool.runCtx); taskErr != nil {
		return &dserrors.TaskError{
			TaskID:   qt.id,
			WorkerID: w.id,
			Err:      taskErr,
		}
	}
	return nil
}

func (w *worker) recordFailure(err *dserrors.TaskError) {
	p := w.pool
	p.failed.Add(1)

	switch {
	case err.Panicked:
		p.panicked.Add(1)
		p.logger.Error("task panicked",
			"worker", w.id,
			"task", err.TaskID,
			"error", err.Err,
			"stack", err.Stack,
		)
	case p.forced() && errors.Is(err.Err, context.Canceled):
		p.logger.Debug("task canceled by forced shutdown", "worker", w.id, "task", err.TaskID)
	default:
		p.logger.Warn("task failed", "worker", w.id, "task", err.TaskID, "error", err.Err)
	}

	if p.config.ErrorHandler != nil {
		w.callHook("ErrorHandler", func() { p.config.ErrorHandler(err) })
	}
}

// callHook runs a configured callback, containing any panic so that a
// faulty hook cannot stop the worker.
func (w *worker) callHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("worker hook panicked", "hook", name, "worker", w.id, "error", r)
		}
	}()
	fn()
}
