package runner_test

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/filterd/internal/runner"
)

type testGraph string

func (g testGraph) Name() string { return string(g) }

// scriptEngine returns statuses from a script and records every call.
type scriptEngine struct {
	mu       sync.Mutex
	calls    []string
	statuses []runner.StepStatus
	steps    int
	readyErr error
	openErr  error

	// onStep runs inside Step with the zero-based step index.
	onStep func(i int)
	// gate, when set, makes every Step wait for a receive.
	gate chan struct{}
}

func (e *scriptEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *scriptEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *scriptEngine) count(call string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (e *scriptEngine) Open() error {
	e.record("open")
	return e.openErr
}

func (e *scriptEngine) AssertReady() error {
	e.record("assert")
	return e.readyErr
}

func (e *scriptEngine) Step(bool) runner.StepStatus {
	e.record("step")
	if e.gate != nil {
		<-e.gate
	}

	e.mu.Lock()
	i := e.steps
	e.steps++
	status := runner.StepFinished
	if i < len(e.statuses) {
		status = e.statuses[i]
	}
	e.mu.Unlock()

	if e.onStep != nil {
		e.onStep(i)
	}
	return status
}

func (e *scriptEngine) WaitUntilWake() { e.record("wake") }

func (e *scriptEngine) Close() { e.record("close") }

// countedFrame tracks retain/release pairs.
type countedFrame struct {
	name     string
	retains  atomic.Int32
	releases atomic.Int32
}

func (f *countedFrame) Retain()  { f.retains.Add(1) }
func (f *countedFrame) Release() { f.releases.Add(1) }

// handoffGPU records ownership transitions and flags overlapping owners.
// A queued failure makes the next matching call fail without changing
// ownership.
type handoffGPU struct {
	mu            sync.Mutex
	active        bool
	log           []string
	violations    int
	activateErr   error
	deactivateErr error
}

func newHandoffGPU() *handoffGPU {
	return &handoffGPU{active: true}
}

// failNext makes the next Activate and/or Deactivate return the given error.
func (g *handoffGPU) failNext(activate, deactivate error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activateErr = activate
	g.deactivateErr = deactivate
}

func (g *handoffGPU) Activate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.activateErr; err != nil {
		g.activateErr = nil
		g.log = append(g.log, "activate failed")
		return err
	}
	if g.active {
		g.violations++
	}
	g.active = true
	g.log = append(g.log, "activate")
	return nil
}

func (g *handoffGPU) Deactivate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.deactivateErr; err != nil {
		g.deactivateErr = nil
		g.log = append(g.log, "deactivate failed")
		return err
	}
	if !g.active {
		g.violations++
	}
	g.active = false
	g.log = append(g.log, "deactivate")
	return nil
}

func (g *handoffGPU) snapshot() ([]string, int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.log...), g.violations, g.active
}

type doneRecord struct {
	outcome runner.Outcome
	err     error
}

// harness wires a controller to a single scripted engine.
type harness struct {
	ctrl   *runner.Controller
	engine *scriptEngine
	gpu    *handoffGPU

	mu    sync.Mutex
	dones []doneRecord
}

func newHarness(t *testing.T, e *scriptEngine) *harness {
	t.Helper()
	h := &harness{engine: e, gpu: newHandoffGPU()}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h.ctrl = runner.NewController(h.gpu, func(runner.Graph) (runner.StepEngine, error) {
		return e, nil
	}, logger)
	h.ctrl.SetDoneCallback(func(outcome runner.Outcome, err error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dones = append(h.dones, doneRecord{outcome: outcome, err: err})
	})
	t.Cleanup(h.ctrl.Wait)
	return h
}

func (h *harness) doneCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dones)
}

func (h *harness) lastDone() doneRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dones[len(h.dones)-1]
}

// dispatchUntilDone plays the launcher: it dispatches events on the test
// goroutine until the number of completed runs reaches want.
func (h *harness) dispatchUntilDone(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for h.doneCount() < want {
		select {
		case <-h.ctrl.Ready():
			h.ctrl.Dispatch()
		case <-deadline:
			t.Fatalf("run did not finish: %d of %d done callbacks", h.doneCount(), want)
		}
	}
}

func requireCalls(t *testing.T, e *scriptEngine, call string, n int) {
	t.Helper()
	require.Equal(t, n, e.count(call), "calls to %s in %v", call, e.Calls())
}
