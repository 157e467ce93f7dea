package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/filterd/internal/frame"
	"github.com/seantiz/filterd/internal/runner"
)

// inlineWait is the longest wake delay a blocking step absorbs itself
// instead of reporting StepSleeping.
const inlineWait = time.Millisecond

// GPU reports whether the rendering context is current.
type GPU interface {
	Active() bool
}

// Env is what an engine needs from its host.
type Env struct {
	Pool    *frame.Pool
	GPU     GPU
	Forward runner.FrameForwarder
	Logger  *slog.Logger
}

var _ runner.StepEngine = (*Engine)(nil)

// Engine steps a pipeline one filter at a time, scanning round-robin from the
// filter after the one that ran last.
type Engine struct {
	def     *Definition
	env     Env
	filters []filter
	source  sourceFilter

	// queues[i] holds input frames waiting for filters[i]; queues[0] is unused.
	queues [][]*frame.Frame
	next   int
	wakeAt time.Time
	opened bool
}

// NewEngine builds an engine with fresh filter instances for def.
func NewEngine(def *Definition, env Env) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}

	filters := make([]filter, len(def.Filters))
	for i, spec := range def.Filters {
		f, err := newFilter(spec)
		if err != nil {
			return nil, err
		}
		filters[i] = f
	}

	return &Engine{
		def:     def,
		env:     env,
		filters: filters,
		source:  filters[0].(sourceFilter),
	}, nil
}

// Factory returns an EngineFactory for definitions. env is called for each
// engine so the forwarder can be bound after the controller exists.
func Factory(env func() Env) runner.EngineFactory {
	return func(g runner.Graph) (runner.StepEngine, error) {
		def, ok := g.(*Definition)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported graph type %T", ErrInvalidDefinition, g)
		}
		return NewEngine(def, env())
	}
}

// Open prepares every filter. It is a no-op on an open engine.
func (e *Engine) Open() error {
	if e.opened {
		return nil
	}
	for _, f := range e.filters {
		if err := f.open(e.env); err != nil {
			return fmt.Errorf("open %s: %w", f.name(), err)
		}
	}
	e.queues = make([][]*frame.Frame, len(e.filters))
	e.next = 0
	e.wakeAt = time.Time{}
	e.opened = true
	return nil
}

// AssertReady checks that the engine was opened and can deliver frames.
func (e *Engine) AssertReady() error {
	if !e.opened {
		return errors.New("engine is not open")
	}
	if e.env.Forward == nil {
		return fmt.Errorf("graph %s: no frame forwarder bound", e.def.Name())
	}
	return nil
}

// Step runs at most one filter that has work.
func (e *Engine) Step(blocking bool) runner.StepStatus {
	if !e.opened {
		return runner.StepError
	}

	now := time.Now()
	sourceDone := false
	n := len(e.filters)
	for k := range n {
		i := (e.next + k) % n
		if i == 0 {
			ready, wakeAt, done := e.source.poll(now)
			sourceDone = done
			if !ready {
				if !done {
					e.wakeAt = wakeAt
				}
				continue
			}
		} else if len(e.queues[i]) == 0 {
			continue
		}

		e.next = (i + 1) % n
		return e.run(i)
	}

	if sourceDone {
		return runner.StepFinished
	}

	wait := time.Until(e.wakeAt)
	if blocking && wait < inlineWait {
		if wait > 0 {
			time.Sleep(wait)
		}
		return runner.StepRunning
	}
	return runner.StepSleeping
}

func (e *Engine) run(i int) runner.StepStatus {
	var in *frame.Frame
	if i > 0 {
		in = e.queues[i][0]
		e.queues[i][0] = nil
		e.queues[i] = e.queues[i][1:]
	}

	out, err := e.filters[i].process(in)
	if err != nil {
		e.env.Logger.Error("filter failed", "graph", e.def.Name(), "filter", e.filters[i].name(), "error", err)
		return runner.StepError
	}
	if out != nil {
		if i+1 < len(e.filters) {
			e.queues[i+1] = append(e.queues[i+1], out)
		} else {
			out.Release()
		}
	}
	return runner.StepRunning
}

// WaitUntilWake blocks until the source is due to produce again.
func (e *Engine) WaitUntilWake() {
	d := time.Until(e.wakeAt)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	<-t.C
}

// Close releases queued frames and closes every filter.
func (e *Engine) Close() {
	if !e.opened {
		return
	}
	for i, q := range e.queues {
		for _, f := range q {
			f.Release()
		}
		e.queues[i] = nil
	}
	for _, f := range e.filters {
		f.close()
	}
	e.opened = false
}
