package stepauth

import "sync/atomic"

// auditDispatcher decouples the authentication path from sink latency. Events
// are queued onto a buffered channel and written by a single goroutine; with
// DropIfFull the hot path never blocks on a slow sink.
type auditDispatcher struct {
	sink       Sink
	events     chan AuditEvent
	stop       chan struct{}
	done       chan struct{}
	dropIfFull bool
	dropped    atomic.Uint64
	closed     atomic.Bool
}

func newAuditDispatcher(sink Sink, bufferSize int, dropIfFull bool) *auditDispatcher {
	d := &auditDispatcher{
		sink:       sink,
		events:     make(chan AuditEvent, bufferSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		dropIfFull: dropIfFull,
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	for {
		select {
		case event := <-d.events:
			d.sink.Write(event)
		case <-d.stop:
			// Drain whatever was queued before the stop signal.
			for {
				select {
				case event := <-d.events:
					d.sink.Write(event)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) emit(event AuditEvent) {
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.events <- event:
	case <-d.stop:
		d.dropped.Add(1)
	}
}

// close stops intake, drains queued events to the sink, and returns once the
// dispatcher goroutine has exited.
func (d *auditDispatcher) close() {
	if !d.closed.Swap(true) {
		close(d.stop)
	}
	<-d.done
}

func (d *auditDispatcher) droppedCount() uint64 {
	return d.dropped.Load()
}
