// Package scheduler runs tasks on cron schedules using github.com/robfig/cron/v3.
//
// Any workerpool.Task can be scheduled. The dispatch CLI uses it to repeat a
// whole batch run on an interval.
//
// Basic Usage:
//
//	s := scheduler.NewCron(scheduler.Config{Logger: logger})
//
//	err := s.Schedule("probe-batch", "@every 5m", workerpool.TaskFunc(func(ctx context.Context) error {
//		_, err := batch.Run(ctx, config, factory)
//		return err
//	}))
//	if err != nil {
//		return err
//	}
//
//	s.Start()
//	defer s.Stop(context.Background())
//
// Expressions:
//
// Five-field expressions ("minute hour day-of-month month day-of-week") and
// descriptors are accepted:
//
//	"*/15 * * * *"  - every 15 minutes
//	"0 9 * * 1-5"   - 9:00 on weekdays
//	"@hourly"       - at minute 0 of every hour
//	"@every 30s"    - every 30 seconds from Start
//
// With Config.Seconds a leading seconds field may be added.
//
// Overlap and Failures:
//
// A firing that arrives while the previous run of the same entry is still
// going is skipped. Errors returned by a task are logged. Panics are recovered
// and logged with their stack.
//
// Running on a Pool:
//
// When Config.Pool is set, fired tasks are submitted to that pool and the
// scheduler waits for them there, so the pool bounds how many scheduled tasks
// run at once across all entries.
//
// Stopping:
//
// Stop stops the cron loop and waits for running tasks. If its context ends
// first, the context passed to running tasks is canceled.
package scheduler
