// Package timerqueue implements a min-heap of deadlined values with a
// worker goroutine that fires a callback as each deadline elapses. It
// is the generic retransmission-scheduling primitive behind the
// peer's outbound file-transfer ack waits: push a value with a
// priority (a unix-nanosecond deadline), and when that deadline
// arrives without an intervening Pop, the callback runs.
package timerqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/foxrelay/foxrelay/internal/worker"
)

// Entry is one scheduled item.
type Entry struct {
	Priority uint64 // unix nanoseconds
	Value    interface{}
}

type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*Entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TimerQueue runs fireFn once per entry whose deadline elapses, in
// deadline order, until Halted.
type TimerQueue struct {
	worker.Worker

	mu     sync.Mutex
	h      entryHeap
	wakeCh chan struct{}

	fireFn func(interface{})
}

// New constructs a TimerQueue. Call Start to begin firing deadlines.
func New(fireFn func(interface{})) *TimerQueue {
	return &TimerQueue{
		h:      make(entryHeap, 0),
		wakeCh: make(chan struct{}, 1),
		fireFn: fireFn,
	}
}

// Start launches the worker goroutine. Must be called before Push.
func (q *TimerQueue) Start() {
	q.Go(q.worker)
}

// Push schedules value to fire at the given priority (unix
// nanoseconds), unless removed first.
func (q *TimerQueue) Push(priority uint64, value interface{}) {
	q.mu.Lock()
	heap.Push(&q.h, &Entry{Priority: priority, Value: value})
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// Peek returns the earliest-deadline entry without removing it, or
// nil if the queue is empty.
func (q *TimerQueue) Peek() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the earliest-deadline entry, or nil if the
// queue is empty.
func (q *TimerQueue) Pop() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Entry)
}

// Len reports the number of pending entries.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

func (q *TimerQueue) worker() {
	const idleWait = 100 * time.Millisecond

	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.h) == 0 {
			wait = idleWait
		} else {
			deadline := time.Unix(0, int64(q.h[0].Priority))
			wait = time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-q.HaltCh():
			timer.Stop()
			return
		case <-q.wakeCh:
			timer.Stop()
			continue
		case <-timer.C:
		}

		q.mu.Lock()
		if len(q.h) == 0 {
			q.mu.Unlock()
			continue
		}
		next := q.h[0]
		if time.Now().UnixNano() < int64(next.Priority) {
			q.mu.Unlock()
			continue
		}
		heap.Pop(&q.h)
		q.mu.Unlock()

		q.fireFn(next.Value)
	}
}
