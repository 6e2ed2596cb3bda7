package workerpool

import (
	"sync"
	"time"
)

// compactThreshold is the number of consumed slots after which a queue
// that never fully empties shifts its backlog to the front.
const compactThreshold = 1024

// queuedTask is a task waiting for a worker.
type queuedTask struct {
	id       uint64
	task     Task
	enqueued time.Time
}

// taskQueue is an unbounded FIFO shared by all workers of a pool.
//
// ready holds at most one wake-up token. A consumer that takes an item and
// sees more behind it, or that observes the queue closed, passes the token
// on, so a single token eventually reaches every waiting worker.
type taskQueue struct {
	mu     sync.Mutex
	items  []queuedTask
	head   int
	closed bool
	ready  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

// push appends qt and calls accepted, if non-nil, while still holding the
// lock. It returns false once the queue is closed.
func (q *taskQueue) push(qt queuedTask, accepted func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, qt)
	if accepted != nil {
		accepted()
	}
	q.mu.Unlock()

	q.wake()
	return true
}

// pop removes the head of the queue, blocking while the queue is empty and
// open. It returns false when the queue is closed and empty, or as soon as
// force is closed.
func (q *taskQueue) pop(force <-chan struct{}) (queuedTask, bool) {
	for {
		select {
		case <-force:
			q.wake()
			return queuedTask{}, false
		default:
		}

		q.mu.Lock()
		if n := len(q.items) - q.head; n > 0 {
			qt := q.items[q.head]
			q.items[q.head] = queuedTask{}
			q.head++
			switch {
			case q.head == len(q.items):
				q.items = q.items[:0]
				q.head = 0
			case q.head >= compactThreshold && q.head*2 >= len(q.items):
				q.items = append(q.items[:0], q.items[q.head:]...)
				q.head = 0
			}
			q.mu.Unlock()
			if n > 1 {
				q.wake()
			}
			return qt, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			q.wake()
			return queuedTask{}, false
		}

		select {
		case <-q.ready:
		case <-force:
			q.wake()
			return queuedTask{}, false
		}
	}
}

// close stops further pushes. Items already queued remain poppable.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// drain removes every queued item and returns how many were dropped.
func (q *taskQueue) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return n
}

// len returns the number of queued items.
func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *taskQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
