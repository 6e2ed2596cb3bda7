// Package metrics provides Prometheus instrumentation for dispatch components.
//
// # Overview
//
// Worker pools, batches and probe tasks record their activity into a
// Registry. Components take a Config:
//
//	registry := prometheus.NewRegistry()
//	pool, err := workerpool.NewWithMetrics(workerpool.Config{Size: 10}, "clients",
//		metrics.Config{Enabled: true, Registry: registry})
//
// and the registry is exposed over HTTP by the caller:
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil Config.Registry selects DefaultRegistry, which is registered with
// prometheus.DefaultRegisterer under the "dispatch" namespace. Configs that
// name the same registerer and namespace resolve to one shared Registry, so
// repeated batches keep accumulating into the same collectors. Calling
// NewRegistry twice for one registerer and namespace panics.
//
// # Available Metrics
//
// Worker pool (label pool_name):
//
//   - dispatch_workerpool_size
//   - dispatch_workerpool_active_workers
//   - dispatch_workerpool_queued_tasks
//   - dispatch_workerpool_tasks_submitted_total
//   - dispatch_workerpool_tasks_rejected_total
//   - dispatch_workerpool_tasks_executed_total
//   - dispatch_workerpool_tasks_completed_total
//   - dispatch_workerpool_tasks_failed_total
//   - dispatch_workerpool_tasks_panicked_total
//   - dispatch_workerpool_tasks_discarded_total
//   - dispatch_workerpool_task_duration_seconds
//   - dispatch_workerpool_task_queue_wait_seconds
//   - dispatch_workerpool_shutdowns_total (extra label outcome)
//   - dispatch_workerpool_shutdown_duration_seconds
//
// Probe (labels target, result):
//
//   - dispatch_probe_exchanges_total
//   - dispatch_probe_exchange_duration_seconds
package metrics
