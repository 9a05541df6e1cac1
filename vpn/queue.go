package vpn

import "sync"

// workQueue is an unbounded FIFO of units of work. Any goroutine may push;
// only the service worker drains.
type workQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool

	// wake holds at most one pending signal for the worker
	wake chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{wake: make(chan struct{}, 1)}
}

// push appends f and wakes the worker. It returns false once the queue is
// closed.
func (q *workQueue) push(f func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
		// Already pending
	}
	return true
}

// drain removes and returns everything queued so far.
func (q *workQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// close rejects further pushes and discards pending work.
func (q *workQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
