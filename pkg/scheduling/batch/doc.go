/*
Package batch dispatches a fixed number of tasks through a worker pool and
reports how the run ended.

Run is the whole client program in one call: build the pool, submit every
task the factory produces, then shut down with a deadline.

	report, err := batch.Run(ctx, batch.DefaultConfig(), func(i int) workerpool.Task {
		return probe.NewTask(probeConfig)
	})
	if err != nil {
		return err // invalid configuration
	}
	if !report.Clean() {
		log.Printf("run %s ended %s", report.RunID, report.Outcome)
	}

Submissions can be paced with Config.Rate and Config.Burst, which feed a
token bucket from golang.org/x/time/rate. Each run gets a random RunID that
is attached to every log record it produces.
*/
package batch
