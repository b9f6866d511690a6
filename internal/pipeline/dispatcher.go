package pipeline

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/linharesaron/mboitata/internal/capture"
)

// Dispatcher is the handle stages use to re-emit events and the router
// uses to account for in-flight work. The in-flight counter uses
// go.uber.org/atomic so quiescence accounting stays decoupled from any
// particular async framework.
//
// Invariant: inflight is incremented before an event reaches the queue
// and decremented exactly once after the receiving stage's Process
// returns. inflight == 0 together with the queue being closed is the
// condition CloseGracefully waits for.
type Dispatcher struct {
	q        *queue
	inflight atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

func newDispatcher(q *queue) *Dispatcher {
	d := &Dispatcher{q: q}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Emit enqueues resp for processing by stage. It is safe to call from
// inside a Stage.Process implementation (re-entrant emission): the new
// event lands on the same FIFO queue and is processed later, after the
// emitting stage returns.
func (d *Dispatcher) Emit(stage StageID, resp capture.Response) {
	d.inflight.Inc()
	d.q.push(Event{Stage: stage, Response: resp})
}

// complete decrements the in-flight counter, waking any CloseGracefully
// waiter when it reaches zero. Called by the router exactly once after
// a stage's Process returns, balancing the Emit that produced the event.
func (d *Dispatcher) complete() {
	if d.inflight.Dec() == 0 {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// InFlight returns the current in-flight event count: events emitted but
// not yet fully processed by their stage.
func (d *Dispatcher) InFlight() int64 {
	return d.inflight.Load()
}

// CloseGracefully blocks until the in-flight counter reaches zero, then
// closes the router's queue so its worker goroutine exits. The caller
// must have already stopped all producers (closed the ingress channel
// feeding Filter) before calling this — it is not safe to call while
// producers may still Emit.
func (d *Dispatcher) CloseGracefully() {
	d.mu.Lock()
	for d.inflight.Load() > 0 {
		d.cond.Wait()
	}
	d.mu.Unlock()
	d.q.close()
}
