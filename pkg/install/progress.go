package install

import (
	"github.com/charmbracelet/log"
)

// ProgressFunc observes terminal statuses. completed counts resources that
// have reached a terminal status so far, including id.
type ProgressFunc func(id string, completed, total int, status Status)

type progressEvent struct {
	id        string
	completed int
	status    Status
}

// dispatcher delivers progress events to a ProgressFunc from one goroutine.
type dispatcher struct {
	fn     ProgressFunc
	total  int
	events chan progressEvent
	done   chan struct{}
	logger *log.Logger
}

// newDispatcher starts the delivery goroutine. capacity must cover every
// event the batch can emit so senders never block.
func newDispatcher(fn ProgressFunc, total, capacity int, logger *log.Logger) *dispatcher {
	d := &dispatcher{
		fn:     fn,
		total:  total,
		events: make(chan progressEvent, capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		if d.fn != nil {
			d.call(ev)
		}
	}
}

func (d *dispatcher) call(ev progressEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("progress callback panicked", "id", ev.id, "panic", r)
		}
	}()
	d.fn(ev.id, ev.completed, d.total, ev.status)
}

func (d *dispatcher) send(id string, completed int, status Status) {
	d.events <- progressEvent{id: id, completed: completed, status: status}
}

// close stops accepting events and waits until every queued event has
// been delivered.
func (d *dispatcher) close() {
	close(d.events)
	<-d.done
}
