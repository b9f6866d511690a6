package pipeline

import "log/slog"

// Router owns the queue and the read-only stage lookup table built at
// startup. A single dedicated goroutine drains the queue and dispatches
// each event to its stage, calling dispatcher.complete() after the stage
// returns.
type Router struct {
	stages map[StageID]Stage
	q      *queue
	d      *Dispatcher
	logger *slog.Logger
	done   chan struct{}
}

// Build registers stages and starts the router's worker goroutine. It
// returns a ready Dispatcher (for producers and stages to Emit on) and
// the Router handle, whose Wait blocks until the worker has exited —
// which only happens after Dispatcher.CloseGracefully.
func Build(stages map[StageID]Stage, logger *slog.Logger) (*Dispatcher, *Router) {
	if logger == nil {
		logger = slog.Default()
	}
	q := newQueue()
	d := newDispatcher(q)
	r := &Router{
		stages: stages,
		q:      q,
		d:      d,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return d, r
}

func (r *Router) run() {
	defer close(r.done)
	for {
		ev, ok := r.q.pop()
		if !ok {
			return
		}

		stage, ok := r.stages[ev.Stage]
		if !ok {
			r.logger.Error("pipeline: no stage registered for id", "stage", ev.Stage.String())
			r.d.complete()
			continue
		}

		stage.Process(r.d, ev.Response)
		r.d.complete()
	}
}

// Wait blocks until the router's worker goroutine has exited, which
// happens only after the queue is closed (via Dispatcher.CloseGracefully)
// and fully drained.
func (r *Router) Wait() {
	<-r.done
}
