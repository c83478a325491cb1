// Package store holds pieces shared by the document-store adapters.
package store

import (
	"sync"

	"github.com/dkeye/dial/internal/core"
)

// EventQueue feeds one watcher callback in order without ever blocking the
// writer. Store mutations enqueue under the store lock; a dedicated
// goroutine drains to the callback, so callbacks may freely call back into
// the store.
type EventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []core.Snapshot
	closed bool
}

func NewEventQueue(fn core.WatchFunc) *EventQueue {
	q := &EventQueue{}
	q.cond = sync.NewCond(&q.mu)
	go q.drain(fn)
	return q
}

func (q *EventQueue) Enqueue(s core.Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, s)
	q.cond.Signal()
}

// Close drops anything still queued; the callback never fires again.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.buf = nil
	q.cond.Signal()
}

func (q *EventQueue) drain(fn core.WatchFunc) {
	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		next := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()
		fn(next)
	}
}
