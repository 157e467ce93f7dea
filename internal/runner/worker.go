package runner

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// work is the body of the worker goroutine for one run. It posts exactly one
// DoneEvent, after the engine has been closed and the GPU context released.
func (c *Controller) work(t *task) {
	// GPU contexts are bound to OS threads.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	activeWorkers.Inc()
	defer activeWorkers.Dec()

	logger := c.logger.With("run", t.id, "graph", t.graph)
	outcome, err := c.drive(t, logger)

	t.sealed.Store(true)
	runDuration.WithLabelValues(outcome.String()).Observe(time.Since(t.started).Seconds())
	c.events.post(event{run: t.id, done: &DoneEvent{Outcome: outcome, Err: err}})
}

func (c *Controller) drive(t *task, logger *slog.Logger) (outcome Outcome, err error) {
	if err := c.gpu.Activate(); err != nil {
		logger.Error("failed to acquire gpu context", "error", err)
		return OutcomeStopped, fmt.Errorf("acquire gpu context: %w", err)
	}
	defer func() {
		if derr := c.gpu.Deactivate(); derr != nil {
			logger.Error("failed to release gpu context", "error", derr)
			if err == nil {
				err = fmt.Errorf("release gpu context: %w", derr)
			}
		}
	}()

	finished, err := c.loop(t, logger)

	// A stop that raced with a terminal status still reports Stopped.
	if t.cancelled.Load() || !finished {
		return OutcomeStopped, err
	}
	return OutcomeCompleted, err
}

// loop steps the engine until it reports a terminal status or the run is
// cancelled. Close runs on every path out, including panics.
func (c *Controller) loop(t *task, logger *slog.Logger) (finished bool, err error) {
	e := t.engine
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine panicked", "panic", r)
			finished = false
			err = fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
		closeEngine(e, logger)
	}()

	logger.Debug("opening engine")
	if err := e.Open(); err != nil {
		logger.Error("failed to open engine", "error", err)
		return false, fmt.Errorf("open engine: %w", err)
	}
	if err := e.AssertReady(); err != nil {
		logger.Error("engine is not ready to step", "error", err)
		return false, fmt.Errorf("%w: %w", ErrPreconditionViolation, err)
	}

	for !t.cancelled.Load() {
		status := e.Step(true)
		stepsTotal.WithLabelValues(status.String()).Inc()

		switch {
		case status == StepSleeping:
			e.WaitUntilWake()
		case status.IsTerminal():
			logger.Debug("engine reached terminal status", "status", status.String())
			return true, nil
		}
	}
	return false, nil
}

func closeEngine(e StepEngine, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine panicked while closing", "panic", r)
		}
	}()
	logger.Debug("closing engine")
	e.Close()
}
