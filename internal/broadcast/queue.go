package broadcast

import (
	"sync"

	"main/internal/bus"
)

// eventQueue is a bounded ring buffer with drop-oldest overflow. When
// the subscriber drains the queue after an overflow episode, a single
// synthesized notice carrying the dropped count is delivered before
// blocking again.
type eventQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	buf      []bus.Event
	head     int
	size     int
	closed   bool

	dropped    uint64
	makeNotice func(dropped uint64) bus.Event
}

func newEventQueue(capacity int, makeNotice func(dropped uint64) bus.Event) *eventQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &eventQueue{
		buf:        make([]bus.Event, capacity),
		makeNotice: makeNotice,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// push enqueues one event, evicting the oldest when full. It reports
// whether an event was dropped and whether this drop opened a new
// overflow episode.
func (q *eventQueue) push(e bus.Event) (dropped, episodeStarted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, false
	}
	if q.size == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		episodeStarted = q.dropped == 0
		q.dropped++
		dropped = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = e
	q.size++
	q.notEmpty.Signal()
	return dropped, episodeStarted
}

// pop blocks until an event is available or the queue is closed.
func (q *eventQueue) pop() (bus.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if e, ok := q.popLocked(); ok {
			return e, true
		}
		if q.closed {
			return bus.Event{}, false
		}
		q.notEmpty.Wait()
	}
}

// tryPop dequeues without blocking.
func (q *eventQueue) tryPop() (bus.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *eventQueue) popLocked() (bus.Event, bool) {
	if q.size > 0 {
		e := q.buf[q.head]
		q.buf[q.head] = bus.Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		return e, true
	}
	// drained: close the overflow episode with one notice
	if q.dropped > 0 && q.makeNotice != nil {
		notice := q.makeNotice(q.dropped)
		q.dropped = 0
		return notice, true
	}
	return bus.Event{}, false
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}
