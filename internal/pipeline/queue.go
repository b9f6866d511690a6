package pipeline

import (
	"container/list"
	"sync"

	"github.com/linharesaron/mboitata/internal/capture"
)

// Event is a (stage, captured response) pair enqueued on the router's
// queue.
type Event struct {
	Stage    StageID
	Response capture.Response
}

// queue is the unbounded, re-entrant MPSC queue backing the router.
// Stages may emit new events synchronously while being processed by the
// same router goroutine; a bounded channel would deadlock in that case,
// so the queue is a container/list guarded by a mutex and condition
// variable instead (see DESIGN.md for why this stays standard-library).
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

func newQueue() *queue {
	q := &queue{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues an event. A push after close is a no-op: the caller must
// ensure producers have stopped before closing.
func (q *queue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items.PushBack(e)
	q.cond.Signal()
}

// pop blocks until an event is available, or returns ok=false once the
// queue has been closed and fully drained.
func (q *queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.items.Len() == 0 {
		return Event{}, false
	}
	front := q.items.Front()
	q.items.Remove(front)
	ev, _ := front.Value.(Event) //nolint:errcheck // type guaranteed by push
	return ev, true
}

// close marks the queue closed; pending items still drain via pop before
// it starts returning ok=false.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
