/*
Package dispatch is a bounded concurrent task dispatcher: a fixed-size worker
pool that runs a batch of independent short jobs and shuts down either
cleanly or by force after a deadline.

Task Scheduling (pkg/scheduling):
  - workerpool: Fixed workers, unbounded FIFO queue, two-phase shutdown
  - batch: Submit N tasks, shut down with a deadline, report the outcome
  - scheduler: Repeat tasks on cron schedules

Payload (pkg/probe):
  - One-line TCP request/response exchange

Supporting packages:
  - metrics: Prometheus collectors for pools and probes
  - common/errors, common/validation, common/context

Example usage:

	import (
		"github.com/vnykmshr/dispatch/pkg/probe"
		"github.com/vnykmshr/dispatch/pkg/scheduling/batch"
	)

	report, err := batch.Run(ctx, batch.DefaultConfig(), probe.Factory(probe.DefaultConfig()))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(report.Outcome) // clean, forced or interrupted

The dispatch command in cmd/dispatch wraps the same flow with flags, a
configuration file and a Prometheus endpoint.
*/
package dispatch
