package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	dserrors "github.com/vnykmshr/dispatch/pkg/common/errors"
	"github.com/vnykmshr/dispatch/pkg/common/validation"
	"github.com/vnykmshr/dispatch/pkg/scheduling/workerpool"
)

// ErrEntryNotFound is returned for an ID that was never scheduled or has
// been removed.
var ErrEntryNotFound = errors.New("scheduled entry not found")

var errTaskPanicked = errors.New("task panicked")

// ErrStopped is returned by Start and Schedule once Stop has been called.
var ErrStopped = errors.New("scheduler is stopped")

// standardParser accepts five-field expressions and descriptors such as
// "@every 5m" or "@daily".
var standardParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// secondsParser additionally accepts an optional leading seconds field.
var secondsParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpression reports whether expr is a valid five-field cron
// expression or descriptor.
func ValidateCronExpression(expr string) error {
	if _, err := standardParser.Parse(expr); err != nil {
		return dserrors.NewValidationError("scheduler", "expression", expr, err.Error()).
			WithHint(`use five fields ("*/5 * * * *") or a descriptor ("@every 30s")`)
	}
	return nil
}

// Config holds scheduler configuration.
type Config struct {
	// Location is the time zone expressions are evaluated in. Defaults to time.Local.
	Location *time.Location

	// Seconds accepts an optional leading seconds field.
	Seconds bool

	// Pool, if set, runs fired tasks instead of the cron goroutine. The
	// scheduler does not shut it down.
	Pool workerpool.Pool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Entry describes one scheduled task.
type Entry struct {
	ID         string
	Expression string
	Next       time.Time
	Prev       time.Time
}

type scheduledEntry struct {
	cronID     cron.EntryID
	expression string
	schedule   cron.Schedule
}

// CronScheduler runs tasks on cron schedules. A run that is still going
// when its entry fires again causes that firing to be skipped, and a
// panicking task is logged and contained.
type CronScheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	location *time.Location
	pool     workerpool.Pool
	logger   *slog.Logger

	// runCtx is handed to every task; canceled when Stop gives up waiting.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	entries map[string]*scheduledEntry
	stopped bool
}

// NewCron creates a scheduler. It does nothing until Start is called.
func NewCron(config Config) *CronScheduler {
	location := config.Location
	if location == nil {
		location = time.Local
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parser := standardParser
	if config.Seconds {
		parser = secondsParser
	}

	cl := cronLogger{logger: logger}
	runCtx, cancel := context.WithCancel(context.Background())

	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithParser(parser),
			cron.WithLogger(cl),
			// Recover must sit inside SkipIfStillRunning: the skip token is
			// returned only when the wrapped job returns normally.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		parser:    parser,
		location:  location,
		pool:      config.Pool,
		logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancel,
		entries:   make(map[string]*scheduledEntry),
	}
}

// Schedule registers task under id to run whenever expr fires.
func (s *CronScheduler) Schedule(id, expr string, task workerpool.Task) error {
	if err := validation.ValidateNotEmpty("scheduler", "id", id); err != nil {
		return err
	}
	if task == nil {
		return dserrors.ErrNilTask
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return dserrors.NewValidationError("scheduler", "expression", expr, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.entries[id]; exists {
		return dserrors.NewValidationError("scheduler", "id", id, "already scheduled").
			WithHint("remove the existing entry first")
	}

	cronID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(id, task) }))
	s.entries[id] = &scheduledEntry{
		cronID:     cronID,
		expression: expr,
		schedule:   schedule,
	}
	s.logger.Debug("task scheduled", "id", id, "expression", expr)
	return nil
}

// Remove unschedules id. A run already in progress is not interrupted.
func (s *CronScheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	s.cron.Remove(entry.cronID)
	delete(s.entries, id)
	return true
}

// Next returns when id fires next.
func (s *CronScheduler) Next(id string) (time.Time, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrEntryNotFound, id)
	}

	if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
		return next, nil
	}
	// Not started yet.
	return entry.schedule.Next(time.Now().In(s.location)), nil
}

// Entries returns every scheduled entry ordered by ID.
func (s *CronScheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for id, entry := range s.entries {
		ce := s.cron.Entry(entry.cronID)
		out = append(out, Entry{
			ID:         id,
			Expression: entry.expression,
			Next:       ce.Next,
			Prev:       ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateCronExpression checks expr against this scheduler's parser.
func (s *CronScheduler) ValidateCronExpression(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// Start begins firing entries. Calling Start on a running scheduler does nothing.
func (s *CronScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.cron.Start()
	return nil
}

// Stop stops firing entries and waits for running tasks to return. If ctx
// ends first the task context is canceled and ctx's error is returned.
// A stopped scheduler cannot be restarted.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	stopped := s.cron.Stop()
	defer s.cancelRun()

	select {
	case <-stopped.Done():
		s.logger.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, canceling running tasks", "error", ctx.Err())
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// fire runs one scheduled execution of task.
func (s *CronScheduler) fire(id string, task workerpool.Task) {
	start := time.Now()
	s.logger.Debug("task firing", "id", id)

	var err error
	if s.pool != nil {
		err = s.submitAndWait(task)
	} else {
		err = task.Execute(s.runCtx)
	}

	if err != nil {
		s.logger.Warn("scheduled task failed", "id", id, "error", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Debug("scheduled task finished", "id", id, "elapsed", time.Since(start))
}

// submitAndWait hands task to the pool and blocks until it has run, so that
// overlapping firings are still detected.
func (s *CronScheduler) submitAndWait(task workerpool.Task) error {
	done := make(chan error, 1)
	err := s.pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		defer close(done)
		err := task.Execute(ctx)
		done <- err
		return err
	}))
	if err != nil {
		return err
	}

	select {
	case err, ok := <-done:
		if !ok {
			return errTaskPanicked
		}
		return err
	case <-s.pool.Done():
		select {
		case err, ok := <-done:
			if ok {
				return err
			}
			return errTaskPanicked
		default:
			return fmt.Errorf("task not run: %w", dserrors.ErrPoolClosed)
		}
	case <-s.runCtx.Done():
		return s.runCtx.Err()
	}
}
