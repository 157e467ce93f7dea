package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Controller runs one graph at a time on a dedicated worker goroutine.
//
// The goroutine that calls Run and Dispatch is the launcher. It owns the GPU
// context whenever no run is active, and all observers are invoked on it.
// IsRunning, State and Stop are safe to call from any goroutine.
type Controller struct {
	gpu     GPUContext
	factory EngineFactory
	logger  *slog.Logger
	events  *eventQueue
	wg      sync.WaitGroup

	mu     sync.Mutex
	state  State
	graph  Graph
	engine StepEngine
	onDone DoneObserver
	runSeq uint64

	obsMu   sync.RWMutex
	onFrame FrameObserver

	// current is the active run; nil when no worker has been launched or its
	// DoneEvent has been dispatched.
	current atomic.Pointer[task]
}

// task is the per-run state shared between the launcher and one worker.
type task struct {
	id      uint64
	graph   string
	engine  StepEngine
	started time.Time

	cancelled atomic.Bool
	// sealed is set once the engine has been closed; frames reported after
	// that would trail the DoneEvent and are dropped.
	sealed atomic.Bool
}

// NewController creates an idle controller. gpu may be nil when the engine
// does not render.
func NewController(gpu GPUContext, factory EngineFactory, logger *slog.Logger) *Controller {
	if gpu == nil {
		gpu = noGPU{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		gpu:     gpu,
		factory: factory,
		logger:  logger,
		events:  newEventQueue(),
	}
}

// SetGraph binds a fresh engine for g, replacing any engine bound before.
func (c *Controller) SetGraph(g Graph) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrAlreadyRunning
	}

	e, err := c.factory(g)
	if err != nil {
		return fmt.Errorf("build engine for %q: %w", g.Name(), err)
	}
	c.graph = g
	c.engine = e
	c.logger.Debug("graph bound", "graph", g.Name())
	return nil
}

// Graph returns the bound graph, or nil.
func (c *Controller) Graph() Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph
}

// Run releases the GPU context on the calling goroutine and starts the bound
// engine on a new worker goroutine. It does not wait for the worker.
func (c *Controller) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrAlreadyRunning
	}
	if c.engine == nil {
		return ErrNoGraphBound
	}

	if err := c.gpu.Deactivate(); err != nil {
		return fmt.Errorf("release gpu context: %w", err)
	}

	c.runSeq++
	t := &task{
		id:      c.runSeq,
		graph:   c.graph.Name(),
		engine:  c.engine,
		started: time.Now(),
	}
	c.state = StateRunning
	c.current.Store(t)

	c.logger.Info("run started", "run", t.id, "graph", t.graph)
	c.wg.Go(func() {
		c.work(t)
	})
	return nil
}

// Stop asks the active worker to finish after its current step. It returns
// immediately; the DoneObserver reports when the worker is done.
func (c *Controller) Stop() {
	t := c.current.Load()
	if t == nil {
		return
	}
	if !t.cancelled.Swap(true) {
		c.logger.Info("stop requested", "run", t.id, "graph", t.graph)
	}
}

// IsRunning reports whether a run has started and its DoneEvent has not yet
// been dispatched.
func (c *Controller) IsRunning() bool {
	return c.State() == StateRunning
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetDoneCallback registers the completion observer, replacing any previous one.
func (c *Controller) SetDoneCallback(obs DoneObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = obs
}

// SetFrameObserver registers the frame observer, replacing any previous one.
// A nil observer disables forwarding.
func (c *Controller) SetFrameObserver(obs FrameObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onFrame = obs
}

func (c *Controller) frameObserver() FrameObserver {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return c.onFrame
}

// Forwarder returns the callback the engine uses to report frames. It must
// only be invoked from inside the engine while it is being stepped by this
// controller's worker.
func (c *Controller) Forwarder() FrameForwarder {
	return c.forward
}

func (c *Controller) forward(producerID string, f Frame, userData any) {
	t := c.current.Load()
	if t == nil || t.sealed.Load() {
		framesDropped.WithLabelValues(dropNoRun).Inc()
		return
	}
	if c.frameObserver() == nil {
		framesDropped.WithLabelValues(dropNoObserver).Inc()
		return
	}

	// The producer may recycle its own reference as soon as we return.
	f.Retain()
	c.events.post(event{
		run:   t.id,
		frame: &FrameEvent{ProducerID: producerID, Frame: f, UserData: userData},
	})
	framesForwarded.Inc()
}

// Ready is signalled whenever events are waiting to be dispatched.
func (c *Controller) Ready() <-chan struct{} {
	return c.events.ready
}

// Pending returns the number of queued events.
func (c *Controller) Pending() int {
	return c.events.len()
}

// Dispatch delivers all queued events on the calling goroutine, which must be
// the launcher. It returns the number of events handled.
func (c *Controller) Dispatch() (n int) {
	evs := c.events.drain()
	defer func() {
		// An observer panicked on evs[n]; keep the rest for the next call.
		if n < len(evs) {
			c.events.requeue(evs[n+1:])
		}
	}()

	for _, ev := range evs {
		switch {
		case ev.frame != nil:
			c.deliverFrame(ev.frame)
		case ev.done != nil:
			c.finish(ev.run, ev.done)
		}
		n++
	}
	return n
}

// Pump dispatches events as they arrive until ctx is done.
func (c *Controller) Pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Ready():
			c.Dispatch()
		}
	}
}

// Wait blocks until every worker goroutine has exited. Their DoneEvents may
// still be queued.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) deliverFrame(ev *FrameEvent) {
	// Balances the Retain in forward, whatever the observer does.
	defer ev.Frame.Release()

	obs := c.frameObserver()
	if obs == nil {
		framesDropped.WithLabelValues(dropAtDispatch).Inc()
		return
	}
	obs(ev.ProducerID, ev.Frame, ev.UserData)
	framesDelivered.Inc()
}

func (c *Controller) finish(run uint64, d *DoneEvent) {
	c.mu.Lock()
	c.state = StateFinished
	c.current.Store(nil)
	obs := c.onDone
	c.mu.Unlock()

	if err := c.gpu.Activate(); err != nil {
		c.logger.Error("failed to reacquire gpu context", "run", run, "error", err)
	}

	runsTotal.WithLabelValues(d.Outcome.String()).Inc()
	attrs := []any{"run", run, "outcome", d.Outcome.String()}
	if d.Err != nil {
		attrs = append(attrs, "error", d.Err)
	}
	c.logger.Info("run finished", attrs...)

	if obs != nil {
		obs(d.Outcome, d.Err)
	}
}

type noGPU struct{}

func (noGPU) Activate() error   { return nil }
func (noGPU) Deactivate() error { return nil }
