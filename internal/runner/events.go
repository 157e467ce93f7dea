package runner

import "sync"

// FrameEvent carries one retained frame from the worker to the launcher.
type FrameEvent struct {
	ProducerID string
	Frame      Frame
	UserData   any
}

// DoneEvent is the last event of a run.
type DoneEvent struct {
	Outcome Outcome
	Err     error
}

// event is either a frame or a done notification, never both.
type event struct {
	run   uint64
	frame *FrameEvent
	done  *DoneEvent
}

// eventQueue is an unbounded FIFO with a single producer (the worker) and a
// single consumer (the launcher). post never blocks, so a slow launcher can
// not stall the engine.
type eventQueue struct {
	mu      sync.Mutex
	pending []event
	ready   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) post(ev event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	eventQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	q.signal()
}

// signal coalesces: one pending signal is enough for the consumer to drain
// everything queued so far.
func (q *eventQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain removes and returns everything queued, in posting order.
// The depth gauge is only written under mu so it never lags the queue.
func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()

	evs := q.pending
	q.pending = nil
	eventQueueDepth.Set(0)
	return evs
}

// requeue puts undelivered events back in front of anything posted since
// they were drained.
func (q *eventQueue) requeue(evs []event) {
	if len(evs) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(append([]event(nil), evs...), q.pending...)
	eventQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	q.signal()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
