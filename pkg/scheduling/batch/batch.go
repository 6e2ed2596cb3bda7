package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	dscontext "github.com/vnykmshr/dispatch/pkg/common/context"
	"github.com/vnykmshr/dispatch/pkg/common/validation"
	"github.com/vnykmshr/dispatch/pkg/metrics"
	"github.com/vnykmshr/dispatch/pkg/scheduling/workerpool"
)

// TaskFactory builds the i-th task of a batch, i counting from 0.
type TaskFactory func(i int) workerpool.Task

// Config describes one batch run.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string

	// Workers is the pool size. Must be greater than 0.
	Workers int

	// Tasks is how many tasks the factory is asked for.
	Tasks int

	// ShutdownTimeout is the drain deadline once every task is submitted.
	ShutdownTimeout time.Duration

	// ForceGrace is passed to the pool; zero selects the pool default.
	ForceGrace time.Duration

	// Rate limits submissions per second. Zero submits as fast as possible.
	Rate float64

	// Burst is the number of submissions allowed at once when Rate is set.
	Burst int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics instruments the pool when Metrics.Enabled is true.
	Metrics metrics.Config
}

// DefaultConfig returns the default batch: 100
// tasks on 10 workers with a 60 second shutdown deadline.
func DefaultConfig() Config {
	return Config{
		Name:            "clients",
		Workers:         10,
		Tasks:           100,
		ShutdownTimeout: 60 * time.Second,
		Burst:           1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNotEmpty("batch", "name", c.Name); err != nil {
		return err
	}
	if err := validation.ValidatePositive("batch", "workers", c.Workers); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("batch", "tasks", float64(c.Tasks)); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("batch", "shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("batch", "force_grace", c.ForceGrace); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("batch", "rate", c.Rate); err != nil {
		return err
	}
	return validation.ValidateNonNegative("batch", "burst", float64(c.Burst))
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Outcome   workerpool.ShutdownOutcome
	Stats     workerpool.Stats
	Submitted int
	Rejected  int
	Elapsed   time.Duration
}

// Clean reports whether every submitted task ran before the deadline.
func (r Report) Clean() bool {
	return r.Outcome == workerpool.CleanShutdown
}

// Run creates a pool, submits config.Tasks tasks from factory and shuts the
// pool down with config.ShutdownTimeout. Canceling ctx stops submission and
// interrupts the shutdown wait.
//
// The returned error is non-nil only when the configuration is invalid;
// how the run ended is in Report.Outcome.
func Run(ctx context.Context, config Config, factory TaskFactory) (Report, error) {
	if err := config.Validate(); err != nil {
		return Report{}, err
	}

	report := Report{RunID: uuid.NewString()}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", report.RunID, "pool", config.Name)

	pool, err := newPool(config, logger)
	if err != nil {
		return Report{}, err
	}

	var limiter *rate.Limiter
	if config.Rate > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.Rate), burst)
	}

	start := time.Now()
	logger.Info("submitting tasks", "count", config.Tasks, "workers", config.Workers)

	for i := 0; i < config.Tasks; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				logger.Warn("submission stopped", "submitted", report.Submitted, "reason", dscontext.Reason(ctx), "error", err)
				break
			}
		} else if dscontext.IsCanceled(ctx) {
			logger.Warn("submission stopped", "submitted", report.Submitted, "reason", dscontext.Reason(ctx))
			break
		}

		if err := pool.Submit(factory(i)); err != nil {
			report.Rejected++
			logger.Error("task rejected", "index", i, "error", err)
			continue
		}
		report.Submitted++
	}
	logger.Info("all tasks submitted", "submitted", report.Submitted, "rejected", report.Rejected)

	report.Outcome = pool.ShutdownContext(ctx, config.ShutdownTimeout)
	report.Stats = pool.Stats()
	report.Elapsed = time.Since(start)

	attrs := []any{
		"outcome", report.Outcome.String(),
		"elapsed", report.Elapsed,
		"succeeded", report.Stats.Succeeded,
		"failed", report.Stats.Failed,
		"discarded", report.Stats.Discarded,
	}
	switch report.Outcome {
	case workerpool.CleanShutdown:
		logger.Info("clean shutdown", attrs...)
	case workerpool.InterruptedShutdown:
		logger.Warn("interrupted shutdown", attrs...)
	default:
		logger.Warn("forced shutdown", attrs...)
	}
	return report, nil
}

func newPool(config Config, logger *slog.Logger) (workerpool.Pool, error) {
	poolConfig := workerpool.Config{
		Size:       config.Workers,
		ForceGrace: config.ForceGrace,
		Logger:     logger,
	}
	if config.Metrics.Enabled {
		return workerpool.NewWithMetrics(poolConfig, config.Name, config.Metrics)
	}
	return workerpool.NewWithConfig(poolConfig)
}
