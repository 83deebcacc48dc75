package cache

import (
	"sync"
	"sync/atomic"
)

// WorkerState is the lifecycle state of a cache's reclamation worker.
// Transitions only move forward: Running, Exiting, Stopped.
type WorkerState int32

const (
	// WorkerRunning waits for and processes reclamation notifications.
	WorkerRunning WorkerState = iota
	// WorkerExiting has been signalled and is finishing its current record.
	WorkerExiting
	// WorkerStopped has returned; no further teardown runs.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerExiting:
		return "exiting"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// reclaimQueue is an unbounded FIFO of teardown records. push never blocks:
// it is called from the runtime's cleanup goroutine, which is shared by the
// whole process.
type reclaimQueue[R any] struct {
	mu     sync.Mutex
	items  []*teardownRecord[R]
	closed bool
	ready  chan struct{} // capacity 1; non-empty means "items may be waiting"
}

func newReclaimQueue[R any]() *reclaimQueue[R] {
	return &reclaimQueue[R]{ready: make(chan struct{}, 1)}
}

// push appends rec and wakes the worker. Records pushed after close are dropped.
func (q *reclaimQueue[R]) push(rec *teardownRecord[R]) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *reclaimQueue[R]) pop() (*teardownRecord[R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	rec := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return rec, true
}

func (q *reclaimQueue[R]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close drops every queued record and rejects later pushes.
// It returns the number of records abandoned.
func (q *reclaimQueue[R]) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	abandoned := len(q.items)
	q.items = nil
	return abandoned
}

// reclaimer owns the single worker goroutine of a Cache.
type reclaimer[R any] struct {
	queue   *reclaimQueue[R]
	process func(*teardownRecord[R])

	state    atomic.Int32
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startReclaimer[R any](process func(*teardownRecord[R])) *reclaimer[R] {
	r := &reclaimer[R]{
		queue:   newReclaimQueue[R](),
		process: process,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.state.Store(int32(WorkerRunning))
	go r.run()
	return r
}

// enqueue is registered as the runtime cleanup of every handle.
func (r *reclaimer[R]) enqueue(rec *teardownRecord[R]) {
	r.queue.push(rec)
}

func (r *reclaimer[R]) run() {
	defer close(r.done)
	defer r.state.Store(int32(WorkerStopped))

	for {
		select {
		case <-r.stop:
			return
		case <-r.queue.ready:
		}

		for {
			select {
			case <-r.stop:
				return
			default:
			}

			rec, ok := r.queue.pop()
			if !ok {
				break
			}
			r.process(rec)
		}
	}
}

// signal asks the worker to exit after its current record and abandons the
// rest of the queue. Only the first call has an effect; it returns the
// number of abandoned records.
func (r *reclaimer[R]) signal() int {
	abandoned := 0
	r.stopOnce.Do(func() {
		r.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerExiting))
		abandoned = r.queue.close()
		close(r.stop)
	})
	return abandoned
}

func (r *reclaimer[R]) workerState() WorkerState {
	return WorkerState(r.state.Load())
}

func (r *reclaimer[R]) pending() int {
	return r.queue.len()
}
