// Command dispatch opens a batch of short client connections to a server
// through a fixed-size worker pool, then shuts the pool down with a
// deadline. With --schedule the batch is repeated on a cron schedule until
// the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnykmshr/dispatch/internal/config"
	"github.com/vnykmshr/dispatch/pkg/metrics"
	"github.com/vnykmshr/dispatch/pkg/probe"
	"github.com/vnykmshr/dispatch/pkg/scheduling/batch"
	"github.com/vnykmshr/dispatch/pkg/scheduling/scheduler"
	"github.com/vnykmshr/dispatch/pkg/scheduling/workerpool"
)

const (
	exitClean  = 0
	exitFailed = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	settings, err := parseSettings(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitClean
		}
		fmt.Fprintf(stderr, "dispatch: %v\n", err)
		return exitFailed
	}

	logger, err := config.NewLogger(stdout, settings.LogLevel, settings.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "dispatch: %v\n", err)
		return exitFailed
	}
	settings.Batch.Logger = logger
	settings.Probe.Logger = logger

	if settings.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mc := metrics.Config{Enabled: true, Registry: reg, Namespace: settings.MetricsNamespace}
		settings.Batch.Metrics = mc
		settings.Probe.Metrics = mc

		stopMetrics, err := serveMetrics(settings.MetricsAddr, reg, logger)
		if err != nil {
			logger.Error("metrics server failed to start", "addr", settings.MetricsAddr, "error", err)
			return exitFailed
		}
		defer stopMetrics()
	}

	if settings.Schedule != "" {
		return runScheduled(ctx, settings, logger)
	}
	return runOnce(ctx, settings, logger)
}

func runOnce(ctx context.Context, settings config.Settings, logger *slog.Logger) int {
	report, err := batch.Run(ctx, settings.Batch, probe.Factory(settings.Probe))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitFailed
	}

	logger.Info("client application finished",
		"run_id", report.RunID,
		"outcome", report.Outcome.String(),
		"succeeded", report.Stats.Succeeded,
		"failed", report.Stats.Failed,
	)
	if !report.Clean() {
		return exitFailed
	}
	return exitClean
}

func runScheduled(ctx context.Context, settings config.Settings, logger *slog.Logger) int {
	if err := settings.Batch.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitFailed
	}

	s := scheduler.NewCron(scheduler.Config{Logger: logger})
	task := workerpool.TaskFunc(func(ctx context.Context) error {
		report, err := batch.Run(ctx, settings.Batch, probe.Factory(settings.Probe))
		if err != nil {
			return err
		}
		if !report.Clean() {
			return fmt.Errorf("run %s ended %s", report.RunID, report.Outcome)
		}
		return nil
	})
	if err := s.Schedule("batch", settings.Schedule, task); err != nil {
		logger.Error("invalid schedule", "schedule", settings.Schedule, "error", err)
		return exitFailed
	}
	if err := s.Start(); err != nil {
		logger.Error("scheduler failed to start", "error", err)
		return exitFailed
	}

	next, _ := s.Next("batch")
	logger.Info("batch scheduled", "schedule", settings.Schedule, "next", next)

	<-ctx.Done()
	logger.Info("stopping scheduler")

	stopCtx, cancel := context.WithTimeout(context.Background(), settings.Batch.ShutdownTimeout)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		logger.Warn("scheduler did not stop in time", "error", err)
		return exitFailed
	}
	return exitClean
}

// parseSettings layers defaults, the optional config file and explicitly
// set flags, in that order.
func parseSettings(args []string, output io.Writer) (config.Settings, error) {
	settings := config.Default()
	defaults := settings

	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		configFile      = fs.String("config", "", "configuration file (YAML or JSON)")
		addr            = fs.String("addr", defaults.Probe.Address, "server address (host:port)")
		clients         = fs.Int("clients", defaults.Batch.Tasks, "number of client tasks to submit")
		workers         = fs.Int("workers", defaults.Batch.Workers, "number of concurrent workers")
		shutdownTimeout = fs.Duration("shutdown-timeout", defaults.Batch.ShutdownTimeout, "how long to wait for tasks to finish before forcing shutdown")
		rate            = fs.Float64("rate", 0, "maximum submissions per second (0 = unlimited)")
		burst           = fs.Int("burst", defaults.Batch.Burst, "submission burst when --rate is set")
		dialTimeout     = fs.Duration("dial-timeout", defaults.Probe.DialTimeout, "connection timeout")
		ioTimeout       = fs.Duration("io-timeout", defaults.Probe.IOTimeout, "request/response timeout")
		schedule        = fs.String("schedule", "", "cron expression to repeat the batch (e.g. \"@every 5m\")")
		metricsAddr     = fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
		logLevel        = fs.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
		logFormat       = fs.String("log-format", defaults.LogFormat, "log format (text, json)")
	)

	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: dispatch [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return settings, err
	}
	if fs.NArg() > 0 {
		return settings, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if *configFile != "" {
		fileConfig, err := config.LoadFile(*configFile)
		if err != nil {
			return settings, err
		}
		if err := fileConfig.Validate(); err != nil {
			return settings, fmt.Errorf("invalid config file: %w", err)
		}
		if err := fileConfig.Apply(&settings); err != nil {
			return settings, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			settings.Probe.Address = *addr
		case "clients":
			settings.Batch.Tasks = *clients
		case "workers":
			settings.Batch.Workers = *workers
		case "shutdown-timeout":
			settings.Batch.ShutdownTimeout = *shutdownTimeout
		case "rate":
			settings.Batch.Rate = *rate
		case "burst":
			settings.Batch.Burst = *burst
		case "dial-timeout":
			settings.Probe.DialTimeout = *dialTimeout
		case "io-timeout":
			settings.Probe.IOTimeout = *ioTimeout
		case "schedule":
			settings.Schedule = *schedule
		case "metrics-addr":
			settings.MetricsAddr = *metricsAddr
		case "log-level":
			settings.LogLevel = *logLevel
		case "log-format":
			settings.LogFormat = *logFormat
		}
	})

	if settings.Schedule != "" {
		if err := scheduler.ValidateCronExpression(settings.Schedule); err != nil {
			return settings, err
		}
	}
	return settings, nil
}

// metricsHandler serves reg in the Prometheus exposition format.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// serveMetrics starts the metrics endpoint and returns a function that
// stops it.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String(), "path", "/metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
