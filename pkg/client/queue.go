package client

import (
	"context"
	"sync"
)

// call is one forwarded operation. run talks to the bridge; done receives the
// outcome and may be nil.
type call struct {
	op   string
	run  func(ctx context.Context) error
	done func(err error)
}

// callQueue is an unbounded FIFO drained by a single worker. It never blocks the
// producer, so callbacks running on the worker can safely enqueue more calls.
type callQueue struct {
	mu     sync.Mutex
	items  []call
	closed bool
	wake   chan struct{}
}

func newCallQueue() *callQueue {
	return &callQueue{wake: make(chan struct{}, 1)}
}

func (q *callQueue) push(c call) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *callQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// next blocks until a call is available. It returns false once the queue is
// closed and drained.
func (q *callQueue) next() (call, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = call{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return c, true
		}
		if q.closed {
			q.mu.Unlock()
			return call{}, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *callQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
