package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	dserrors "github.com/vnykmshr/dispatch/pkg/common/errors"
	"github.com/vnykmshr/dispatch/pkg/common/validation"
)

// DefaultForceGrace is how long Shutdown waits, after forcing, for workers
// that honour cancellation to exit.
const DefaultForceGrace = 25 * time.Millisecond

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task. ctx is canceled when the pool forces
	// termination; tasks that never check it run to completion.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// State is the lifecycle state of a pool.
type State int32

const (
	// Running accepts submissions and runs tasks.
	Running State = iota
	// Draining refuses submissions while queued and in-flight tasks finish.
	Draining
	// Terminated is final.
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ShutdownOutcome tells the caller how a shutdown ended.
type ShutdownOutcome int

const (
	// CleanShutdown means every queued and in-flight task finished before the deadline.
	CleanShutdown ShutdownOutcome = iota
	// ForcedShutdown means the deadline elapsed and the pool canceled outstanding work.
	ForcedShutdown
	// InterruptedShutdown means the caller's context ended while waiting and
	// the pool canceled outstanding work.
	InterruptedShutdown
)

func (o ShutdownOutcome) String() string {
	switch o {
	case CleanShutdown:
		return "clean"
	case ForcedShutdown:
		return "forced"
	case InterruptedShutdown:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Result describes one finished task execution.
type Result struct {
	// TaskID is the submission sequence number, starting at 1
	TaskID uint64

	// WorkerID identifies which worker executed the task
	WorkerID int

	// Err is the task's error, a *errors.TaskError, or nil on success
	Err error

	// Duration is how long the task took to execute
	Duration time.Duration

	// QueueWait is how long the task waited before a worker claimed it
	QueueWait time.Duration
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	State     State
	Size      int
	Submitted int64
	Completed int64
	Succeeded int64
	Failed    int64
	Panicked  int64
	Discarded int64
	Active    int64
	Queued    int
}

// Pool is the behaviour shared by WorkerPool and MetricsPool.
type Pool interface {
	// Submit adds a task to the queue without waiting for it to run.
	// Returns ErrPoolClosed once shutdown has begun.
	Submit(task Task) error

	// Shutdown drains the pool, forcing termination after deadline.
	Shutdown(deadline time.Duration) ShutdownOutcome

	// ShutdownContext is Shutdown that also forces termination when ctx ends.
	ShutdownContext(ctx context.Context, deadline time.Duration) ShutdownOutcome

	// Done is closed once every worker goroutine has exited.
	Done() <-chan struct{}

	// State returns the lifecycle state.
	State() State

	// Stats returns a snapshot of the pool counters.
	Stats() Stats

	// Size returns the number of workers in the pool.
	Size() int
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Size is the number of workers in the pool. Must be greater than 0.
	Size int

	// ForceGrace bounds the wait for workers to exit after forced
	// cancellation. Zero selects DefaultForceGrace; negative is invalid.
	ForceGrace time.Duration

	// Logger receives worker and shutdown events. Defaults to slog.Default().
	Logger *slog.Logger

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, taskID uint64)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(result Result)

	// ErrorHandler is called for every contained task failure.
	ErrorHandler func(err *dserrors.TaskError)
}

// DefaultConfig returns a configuration with ten workers.
func DefaultConfig() Config {
	return Config{
		Size:       10,
		ForceGrace: DefaultForceGrace,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidatePositive("workerpool", "size", c.Size); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("workerpool", "force_grace", c.ForceGrace)
}

// WorkerPool runs submitted tasks on a fixed set of workers.
type WorkerPool struct {
	config Config
	logger *slog.Logger
	queue  *taskQueue

	// runCtx is handed to every task; canceled on forced termination.
	runCtx    context.Context
	cancelRun context.CancelFunc
	forceCh   chan struct{}
	forceOnce sync.Once

	state atomic.Int32

	// Shutdown serialization
	shutdownMu   sync.Mutex
	shutdownDone bool
	outcome      ShutdownOutcome

	workerWg sync.WaitGroup
	done     chan struct{}

	nextID    atomic.Uint64
	submitted atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	discarded atomic.Int64
	active    atomic.Int64
}

// worker represents a single worker in the pool.
type worker struct {
	id   int
	pool *WorkerPool
}

// NewWorkerPool creates a pool with size workers and default options.
func NewWorkerPool(size int) (*WorkerPool, error) {
	config := DefaultConfig()
	config.Size = size
	return NewWithConfig(config)
}

// NewWithConfig creates a pool with the specified configuration and starts
// its workers. The pool is Running when it is returned.
func NewWithConfig(config Config) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ForceGrace == 0 {
		config.ForceGrace = DefaultForceGrace
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		config:    config,
		logger:    logger,
		queue:     newTaskQueue(),
		runCtx:    runCtx,
		cancelRun: cancel,
		forceCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	pool.state.Store(int32(Running))

	for i := 0; i < config.Size; i++ {
		w := &worker{id: i, pool: pool}
		pool.workerWg.Add(1)
		go w.run()
	}

	go func() {
		pool.workerWg.Wait()
		close(pool.done)
	}()

	logger.Debug("worker pool started", "size", config.Size)
	return pool, nil
}
