/*
Package scheduling provides task execution primitives for dispatch.

This package groups three components:

  - workerpool: Fixed worker pool with an unbounded queue and two-phase shutdown
  - batch: One-shot dispatch of a fixed number of tasks through a pool
  - scheduler: Cron-driven repetition of tasks

Worker Pool:

	pool, _ := workerpool.NewWorkerPool(4)

	pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		// Do work
		return nil
	}))

	outcome := pool.Shutdown(30 * time.Second) // clean, forced or interrupted

Batch:

	report, err := batch.Run(ctx, batch.DefaultConfig(), factory)

Scheduler:

	s := scheduler.NewCron(scheduler.Config{})
	s.Schedule("nightly", "0 2 * * *", task)
	s.Start()
	defer s.Stop(ctx)

All components are safe for concurrent use and take a context.Context where
work can block.
*/
package scheduling
