package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/dispatch/internal/testutil"
	dserrors "github.com/vnykmshr/dispatch/pkg/common/errors"
)

// TestTask is a simple task for testing.
type TestTask struct {
	Duration    time.Duration
	ShouldErr   bool
	ShouldPanic bool
	Executed    *int64 // Atomic counter
}

func (t *TestTask) Execute(ctx context.Context) error {
	atomic.AddInt64(t.Executed, 1)

	if t.ShouldPanic {
		panic("test panic")
	}

	if t.Duration > 0 {
		select {
		case <-time.After(t.Duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if t.ShouldErr {
		return errors.New("test error")
	}

	return nil
}

func quietConfig(size int) Config {
	return Config{
		Size:   size,
		Logger: testutil.NewLogger(testutil.NewLogBuffer()),
	}
}

// waitDone fails the test if the pool's workers do not exit in time.
func waitDone(t *testing.T, p Pool) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(testutil.TestTimeout):
		t.Fatal("workers did not exit")
	}
}

// assertExited fails the test unless every worker has already exited.
func assertExited(t *testing.T, p Pool) {
	t.Helper()
	select {
	case <-p.Done():
	default:
		t.Fatalf("workers still running after %v shutdown", p.State())
	}
}

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"single worker", 1, false},
		{"ten workers", 10, false},
		{"zero workers", 0, true},
		{"negative workers", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewWorkerPool(tt.size)
			if tt.wantErr {
				testutil.AssertErrorIs(t, err, dserrors.ErrInvalidConfiguration)
				if pool != nil {
					t.Fatal("no pool should be created on invalid configuration")
				}
				return
			}

			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, pool.Size(), tt.size)
			testutil.AssertEqual(t, pool.State(), Running)
			testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
			waitDone(t, pool)
		})
	}
}

func TestNewWithConfigValidation(t *testing.T) {
	_, err := NewWithConfig(Config{Size: 2, ForceGrace: -time.Second})
	testutil.AssertErrorIs(t, err, dserrors.ErrInvalidConfiguration)
	if !dserrors.IsValidationError(err) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestCleanShutdownCountsEveryTask(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(10))
	testutil.AssertNoError(t, err)

	var counter int64
	for i := 0; i < 100; i++ {
		err := pool.Submit(TaskFunc(func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		}))
		testutil.AssertNoError(t, err)
	}

	outcome := pool.Shutdown(60 * time.Second)

	testutil.AssertEqual(t, outcome, CleanShutdown)
	testutil.AssertEqual(t, atomic.LoadInt64(&counter), int64(100))
	testutil.AssertEqual(t, pool.State(), Terminated)

	stats := pool.Stats()
	testutil.AssertEqual(t, stats.Submitted, int64(100))
	testutil.AssertEqual(t, stats.Completed, int64(100))
	testutil.AssertEqual(t, stats.Succeeded, int64(100))
	testutil.AssertEqual(t, stats.Discarded, int64(0))
	waitDone(t, pool)
}

func TestConcurrencyNeverExceedsSize(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		size := size
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			pool, err := NewWithConfig(quietConfig(size))
			testutil.AssertNoError(t, err)

			var current, peak int64
			for i := 0; i < size*10; i++ {
				err := pool.Submit(TaskFunc(func(ctx context.Context) error {
					n := atomic.AddInt64(&current, 1)
					for {
						old := atomic.LoadInt64(&peak)
						if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt64(&current, -1)
					return nil
				}))
				testutil.AssertNoError(t, err)
			}

			testutil.AssertEqual(t, pool.Shutdown(10*time.Second), CleanShutdown)
			if got := atomic.LoadInt64(&peak); got > int64(size) || got < 1 {
				t.Fatalf("peak concurrency %d with %d workers", got, size)
			}
			waitDone(t, pool)
		})
	}
}

func TestForcedShutdownReturnsNearDeadline(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(2))
	testutil.AssertNoError(t, err)

	release := make(chan struct{})
	var started int64
	for i := 0; i < 2; i++ {
		err := pool.Submit(TaskFunc(func(ctx context.Context) error {
			atomic.AddInt64(&started, 1)
			<-release // ignores cancellation
			return nil
		}))
		testutil.AssertNoError(t, err)
	}
	testutil.WaitForInt64(t, &started, 2, time.Second)

	start := time.Now()
	outcome := pool.Shutdown(100 * time.Millisecond)
	elapsed := time.Since(start)

	testutil.AssertEqual(t, outcome, ForcedShutdown)
	testutil.AssertEqual(t, pool.State(), Terminated)
	if elapsed < 100*time.Millisecond {
		t.Errorf("shutdown returned before the deadline: %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("shutdown took %v, want close to 100ms", elapsed)
	}

	select {
	case <-pool.Done():
		t.Fatal("workers exited while their tasks were still blocked")
	default:
	}

	close(release)
	waitDone(t, pool)
}

func TestForcedShutdownCancelsCooperativeTasks(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(3))
	testutil.AssertNoError(t, err)

	var executed int64
	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Duration: time.Hour, Executed: &executed}))
	}
	testutil.WaitForInt64(t, &executed, 3, time.Second)

	outcome := pool.Shutdown(50 * time.Millisecond)
	testutil.AssertEqual(t, outcome, ForcedShutdown)

	// Cooperative tasks stop within the grace period.
	waitDone(t, pool)
	stats := pool.Stats()
	testutil.AssertEqual(t, stats.Completed, int64(3))
	testutil.AssertEqual(t, stats.Failed, int64(3))
	testutil.AssertEqual(t, stats.Active, int64(0))
}

func TestForcedShutdownDiscardsQueuedTasks(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(1))
	testutil.AssertNoError(t, err)

	var blocker, queued int64
	testutil.AssertNoError(t, pool.Submit(&TestTask{Duration: time.Hour, Executed: &blocker}))
	testutil.WaitForInt64(t, &blocker, 1, time.Second)

	for i := 0; i < 5; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Executed: &queued}))
	}

	testutil.AssertEqual(t, pool.Shutdown(20*time.Millisecond), ForcedShutdown)
	waitDone(t, pool)

	testutil.AssertEqual(t, atomic.LoadInt64(&queued), int64(0))
	stats := pool.Stats()
	testutil.AssertEqual(t, stats.Discarded, int64(5))
	testutil.AssertEqual(t, stats.Queued, 0)
	testutil.AssertEqual(t, stats.Submitted, stats.Completed+stats.Discarded)
}

func TestInterruptedShutdown(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(2))
	testutil.AssertNoError(t, err)

	var executed int64
	for i := 0; i < 4; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Duration: time.Hour, Executed: &executed}))
	}
	testutil.WaitForInt64(t, &executed, 2, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome := pool.ShutdownContext(ctx, time.Minute)

	testutil.AssertEqual(t, outcome, InterruptedShutdown)
	testutil.AssertEqual(t, pool.State(), Terminated)
	if time.Since(start) > time.Second {
		t.Errorf("interrupted shutdown took %v", time.Since(start))
	}
	waitDone(t, pool)
	testutil.AssertEqual(t, pool.Stats().Discarded, int64(2))
}

func TestSubmitAfterShutdown(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(2))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)

	var executed int64
	err = pool.Submit(&TestTask{Executed: &executed})
	testutil.AssertErrorIs(t, err, dserrors.ErrPoolClosed)

	waitDone(t, pool)
	testutil.AssertEqual(t, atomic.LoadInt64(&executed), int64(0))
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(0))
}

func TestRejectedSubmitNeverSeesRunning(t *testing.T) {
	for i := 0; i < 50; i++ {
		pool, err := NewWithConfig(quietConfig(2))
		testutil.AssertNoError(t, err)

		var wg sync.WaitGroup
		var sawRunning atomic.Bool
		stop := make(chan struct{})
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if err := pool.Submit(TaskFunc(func(ctx context.Context) error { return nil })); err != nil {
						if pool.State() == Running {
							sawRunning.Store(true)
						}
						return
					}
				}
			}()
		}

		pool.Shutdown(time.Second)
		close(stop)
		wg.Wait()
		waitDone(t, pool)

		if sawRunning.Load() {
			t.Fatal("submission rejected while pool still reported running")
		}
	}
}

func TestSubmitWhileDraining(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(1))
	testutil.AssertNoError(t, err)

	release := make(chan struct{})
	var started int64
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		atomic.AddInt64(&started, 1)
		<-release
		return nil
	})))
	testutil.WaitForInt64(t, &started, 1, time.Second)

	outcomeCh := make(chan ShutdownOutcome, 1)
	go func() { outcomeCh <- pool.Shutdown(10 * time.Second) }()

	testutil.Eventually(t, func() bool { return pool.State() == Draining }, time.Second, time.Millisecond)

	var executed int64
	err = pool.Submit(&TestTask{Executed: &executed})
	testutil.AssertErrorIs(t, err, dserrors.ErrPoolClosed)

	close(release)
	testutil.AssertEqual(t, <-outcomeCh, CleanShutdown)
	testutil.AssertEqual(t, atomic.LoadInt64(&executed), int64(0))
	waitDone(t, pool)
}

func TestSubmitNilTask(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(1))
	testutil.AssertNoError(t, err)
	defer pool.Shutdown(time.Second)

	testutil.AssertErrorIs(t, pool.Submit(nil), dserrors.ErrNilTask)
}

func TestFailureIsolation(t *testing.T) {
	errs := testutil.NewCallbackTracker()
	config := quietConfig(1)
	config.ErrorHandler = func(err *dserrors.TaskError) { errs.Mark(err) }

	pool, err := NewWithConfig(config)
	testutil.AssertNoError(t, err)

	const total = 20
	var executed int64
	faults := 0
	for i := 0; i < total; i++ {
		task := &TestTask{Executed: &executed}
		switch i % 5 {
		case 1:
			task.ShouldErr = true
			faults++
		case 3:
			task.ShouldPanic = true
			faults++
		}
		testutil.AssertNoError(t, pool.Submit(task))
	}

	testutil.AssertEqual(t, pool.Shutdown(5*time.Second), CleanShutdown)
	waitDone(t, pool)

	stats := pool.Stats()
	testutil.AssertEqual(t, atomic.LoadInt64(&executed), int64(total))
	testutil.AssertEqual(t, stats.Completed, int64(total))
	testutil.AssertEqual(t, stats.Succeeded, int64(total-faults))
	testutil.AssertEqual(t, stats.Failed, int64(faults))
	testutil.AssertEqual(t, stats.Panicked, int64(total/5))
	testutil.AssertEqual(t, errs.CallCount(), faults)
}

func TestPanicIsRecordedAsTaskError(t *testing.T) {
	results := make(chan Result, 1)
	config := quietConfig(1)
	config.OnTaskComplete = func(r Result) { results <- r }

	pool, err := NewWithConfig(config)
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		panic("boom")
	})))

	r := <-results
	testutil.AssertEqual(t, r.TaskID, uint64(1))
	testutil.AssertEqual(t, dserrors.IsTaskPanic(r.Err), true)

	var terr *dserrors.TaskError
	if !errors.As(r.Err, &terr) || terr.Stack == "" {
		t.Fatalf("expected TaskError with stack, got %v", r.Err)
	}

	testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
	waitDone(t, pool)
}

func TestSuccessfulResultHasNilError(t *testing.T) {
	results := make(chan Result, 1)
	config := quietConfig(1)
	config.OnTaskComplete = func(r Result) { results <- r }

	pool, err := NewWithConfig(config)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error { return nil })))

	r := <-results
	if r.Err != nil {
		t.Fatalf("expected nil error, got %v", r.Err)
	}
	testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
	waitDone(t, pool)
}

func TestFIFOOrderSingleWorker(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(1))
	testutil.AssertNoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})))
	}

	testutil.AssertEqual(t, pool.Shutdown(5*time.Second), CleanShutdown)
	waitDone(t, pool)

	testutil.AssertEqual(t, len(order), 50)
	for i, v := range order {
		if v != i {
			t.Fatalf("position %d ran task %d", i, v)
		}
	}
}

func TestConcurrentProducers(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(4))
	testutil.AssertNoError(t, err)

	const producers, perProducer = 8, 100
	var executed int64
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := pool.Submit(&TestTask{Executed: &executed}); err != nil {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, pool.Shutdown(10*time.Second), CleanShutdown)
	waitDone(t, pool)
	testutil.AssertEqual(t, atomic.LoadInt64(&executed), int64(producers*perProducer))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(producers*perProducer))
}

func TestShutdownIsIdempotent(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(1))
	testutil.AssertNoError(t, err)

	release := make(chan struct{})
	var started int64
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		atomic.AddInt64(&started, 1)
		<-release
		return nil
	})))
	testutil.WaitForInt64(t, &started, 1, time.Second)

	testutil.AssertEqual(t, pool.Shutdown(10*time.Millisecond), ForcedShutdown)
	close(release)
	waitDone(t, pool)

	// Later calls report the first outcome.
	testutil.AssertEqual(t, pool.Shutdown(time.Minute), ForcedShutdown)
	testutil.AssertEqual(t, pool.State(), Terminated)
}

func TestConcurrentShutdownCallsAgree(t *testing.T) {
	pool, err := NewWithConfig(quietConfig(2))
	testutil.AssertNoError(t, err)

	var executed int64
	for i := 0; i < 10; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Duration: time.Millisecond, Executed: &executed}))
	}

	outcomes := make(chan ShutdownOutcome, 3)
	for i := 0; i < 3; i++ {
		go func() { outcomes <- pool.Shutdown(5 * time.Second) }()
	}
	for i := 0; i < 3; i++ {
		testutil.AssertEqual(t, <-outcomes, CleanShutdown)
	}
	waitDone(t, pool)
}

func TestZeroDeadline(t *testing.T) {
	t.Run("idle pool", func(t *testing.T) {
		pool, err := NewWithConfig(quietConfig(2))
		testutil.AssertNoError(t, err)

		testutil.AssertEqual(t, pool.Shutdown(0), CleanShutdown)
		assertExited(t, pool)
	})

	t.Run("busy pool", func(t *testing.T) {
		pool, err := NewWithConfig(quietConfig(1))
		testutil.AssertNoError(t, err)

		var executed int64
		testutil.AssertNoError(t, pool.Submit(&TestTask{Duration: time.Hour, Executed: &executed}))
		testutil.WaitForInt64(t, &executed, 1, time.Second)

		testutil.AssertEqual(t, pool.Shutdown(0), ForcedShutdown)
		waitDone(t, pool)
	})
}

func TestCleanShutdownClosesDone(t *testing.T) {
	t.Run("after tasks", func(t *testing.T) {
		pool, err := NewWithConfig(quietConfig(4))
		testutil.AssertNoError(t, err)
		for i := 0; i < 20; i++ {
			testutil.AssertNoError(t, pool.Submit(&TestTask{}))
		}
		testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
		assertExited(t, pool)
	})

	t.Run("context already ended", func(t *testing.T) {
		pool, err := NewWithConfig(quietConfig(4))
		testutil.AssertNoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		testutil.AssertEqual(t, pool.ShutdownContext(ctx, time.Minute), CleanShutdown)
		assertExited(t, pool)
	})
}

func TestLifecycleHooks(t *testing.T) {
	starts := testutil.NewCallbackTracker()
	stops := testutil.NewCallbackTracker()
	taskStarts := testutil.NewCallbackTracker()

	config := quietConfig(3)
	config.OnWorkerStart = func(id int) { starts.Mark(id) }
	config.OnWorkerStop = func(id int) { stops.Mark(id) }
	config.OnTaskStart = func(id int, taskID uint64) { taskStarts.Mark(taskID) }

	pool, err := NewWithConfig(config)
	testutil.AssertNoError(t, err)

	var executed int64
	for i := 0; i < 6; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Executed: &executed}))
	}
	testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
	waitDone(t, pool)

	testutil.AssertEqual(t, starts.CallCount(), 3)
	testutil.AssertEqual(t, stops.CallCount(), 3)
	testutil.AssertEqual(t, taskStarts.CallCount(), 6)
}

func TestPanickingHookDoesNotStopWorker(t *testing.T) {
	config := quietConfig(1)
	config.OnTaskComplete = func(Result) { panic("hook") }

	pool, err := NewWithConfig(config)
	testutil.AssertNoError(t, err)

	var executed int64
	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, pool.Submit(&TestTask{Executed: &executed}))
	}
	testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
	waitDone(t, pool)
	testutil.AssertEqual(t, atomic.LoadInt64(&executed), int64(3))
}

func TestShutdownLogsOutcome(t *testing.T) {
	logs := testutil.NewLogBuffer()
	pool, err := NewWithConfig(Config{Size: 1, Logger: testutil.NewLogger(logs)})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, pool.Submit(TaskFunc(func(ctx context.Context) error {
		return errors.New("dial refused")
	})))
	testutil.AssertEqual(t, pool.Shutdown(time.Second), CleanShutdown)
	waitDone(t, pool)

	testutil.AssertEqual(t, logs.Contains("task failed"), true)
	testutil.AssertEqual(t, logs.Contains("dial refused"), true)
	testutil.AssertEqual(t, logs.Contains("outcome=clean"), true)
}

func TestStateString(t *testing.T) {
	testutil.AssertEqual(t, Running.String(), "running")
	testutil.AssertEqual(t, Draining.String(), "draining")
	testutil.AssertEqual(t, Terminated.String(), "terminated")
	testutil.AssertEqual(t, CleanShutdown.String(), "clean")
	testutil.AssertEqual(t, ForcedShutdown.String(), "forced")
	testutil.AssertEqual(t, InterruptedShutdown.String(), "interrupted")
}
