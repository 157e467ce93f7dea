package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/seantiz/filterd/internal/frame"
	"github.com/seantiz/filterd/internal/gpu"
	"github.com/seantiz/filterd/internal/graph"
	"github.com/seantiz/filterd/internal/model"
	"github.com/seantiz/filterd/internal/runner"
	"github.com/seantiz/filterd/internal/store"
)

// DefaultStopGrace bounds how long shutdown waits for an active run.
const DefaultStopGrace = 5 * time.Second

var (
	// ErrNotRunning is returned by control calls made while Run is not active.
	ErrNotRunning = errors.New("supervisor is not running")

	// ErrStopTimeout is returned by Run when an active run outlived the
	// stop grace during shutdown.
	ErrStopTimeout = errors.New("run did not stop within grace period")
)

// Status is a snapshot of the supervisor taken on the launcher goroutine.
type Status struct {
	State          string     `json:"state"`
	Graph          string     `json:"graph,omitempty"`
	Run            *model.Run `json:"run,omitempty"`
	PendingEvents  int        `json:"pending_events"`
	LiveFrames     int64      `json:"live_frames"`
	GPUActive      bool       `json:"gpu_active"`
	GPUActivations int        `json:"gpu_activations"`
	GPUViolations  int        `json:"gpu_violations"`
}

// Supervisor drives one runner.Controller from a dedicated launcher
// goroutine. Everything that touches the controller's launcher side,
// including its observers, runs there.
type Supervisor struct {
	store     store.Store
	graphs    *graph.Registry
	logger    *slog.Logger
	stopGrace time.Duration

	ctrl   *runner.Controller
	gpu    *gpu.Context
	pool   *frame.Pool
	broker *FrameBroker

	calls   chan func()
	stopped chan struct{}
	running atomic.Bool

	// Launcher-owned.
	active *activeRun
}

type activeRun struct {
	run    *model.Run
	frames int64
}

// New creates a supervisor. Nothing runs until Run is called.
func New(s store.Store, graphs *graph.Registry, logger *slog.Logger, stopGrace time.Duration) *Supervisor {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	sv := &Supervisor{
		store:     s,
		graphs:    graphs,
		logger:    logger,
		stopGrace: stopGrace,
		gpu:       gpu.NewContext(logger),
		pool:      frame.NewPool(),
		broker:    NewFrameBroker(),
		calls:     make(chan func()),
		stopped:   make(chan struct{}),
	}
	sv.ctrl = runner.NewController(sv.gpu, graph.Factory(sv.engineEnv), logger)
	sv.ctrl.SetFrameObserver(sv.onFrame)
	sv.ctrl.SetDoneCallback(sv.onDone)
	return sv
}

func (s *Supervisor) engineEnv() graph.Env {
	return graph.Env{
		Pool:    s.pool,
		GPU:     s.gpu,
		Forward: s.ctrl.Forwarder(),
		Logger:  s.logger,
	}
}

// Broker returns the broker carrying the frames of live runs.
func (s *Supervisor) Broker() *FrameBroker {
	return s.broker
}

// Graphs returns the registry Load resolves names against.
func (s *Supervisor) Graphs() *graph.Registry {
	return s.graphs
}

// Run makes the calling goroutine the launcher and serves control calls and
// controller events until ctx is cancelled. On cancellation an active run is
// stopped and given the stop grace to report done.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}
	defer close(s.stopped)

	// The launcher owns the GPU context while idle.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := s.gpu.Activate(); err != nil {
		return fmt.Errorf("acquire gpu context: %w", err)
	}
	s.logger.Info("launcher started")

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case fn := <-s.calls:
			s.call(fn)
		case <-s.ctrl.Ready():
			s.dispatch()
		}
	}
}

func (s *Supervisor) shutdown() error {
	if s.ctrl.IsRunning() {
		s.logger.Info("stopping active run for shutdown", "grace", s.stopGrace.String())
		s.ctrl.Stop()

		timer := time.NewTimer(s.stopGrace)
		defer timer.Stop()
		for s.ctrl.IsRunning() {
			select {
			case <-s.ctrl.Ready():
				s.dispatch()
			case <-timer.C:
				s.logger.Error("run did not stop in time", "grace", s.stopGrace.String())
				return ErrStopTimeout
			}
		}
	}

	if err := s.gpu.Deactivate(); err != nil {
		s.logger.Error("failed to release gpu context", "error", err)
	}
	s.logger.Info("launcher stopped")
	return nil
}

// call runs fn on the launcher. A panicking call must not take the launcher
// down with it.
func (s *Supervisor) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("control call panicked", "panic", r)
		}
	}()
	fn()
}

func (s *Supervisor) dispatch() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked", "panic", r)
		}
	}()
	s.ctrl.Dispatch()
}

// do executes fn on the launcher goroutine and waits for it.
func (s *Supervisor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case s.calls <- wrapped:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load binds the named graph to the controller.
func (s *Supervisor) Load(ctx context.Context, name string) error {
	def, err := s.graphs.Resolve(name)
	if err != nil {
		return err
	}

	var loadErr error
	if err := s.do(ctx, func() {
		loadErr = s.ctrl.SetGraph(def)
	}); err != nil {
		return err
	}
	if loadErr != nil {
		return loadErr
	}
	s.logger.Info("graph loaded", "graph", name)
	return nil
}

// Start records a new run and launches the bound graph.
func (s *Supervisor) Start(ctx context.Context) (*model.Run, error) {
	var (
		run      *model.Run
		startErr error
	)
	if err := s.do(ctx, func() {
		run, startErr = s.start(ctx)
	}); err != nil {
		return nil, err
	}
	return run, startErr
}

func (s *Supervisor) start(ctx context.Context) (*model.Run, error) {
	if s.ctrl.IsRunning() {
		return nil, runner.ErrAlreadyRunning
	}
	g := s.ctrl.Graph()
	if g == nil {
		return nil, runner.ErrNoGraphBound
	}

	now := time.Now().UTC()
	run := &model.Run{
		ID:        model.NewID(),
		Graph:     g.Name(),
		Status:    model.StatusRunning,
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	s.broker.Open(run.ID)
	if err := s.ctrl.Run(); err != nil {
		s.broker.Close(run.ID)
		if ferr := s.store.FinishRun(context.Background(), run.ID, model.StatusStopped, err.Error(), time.Now().UTC()); ferr != nil {
			s.logger.Error("failed to record aborted run", "run_id", run.ID, "error", ferr)
		}
		return nil, err
	}

	s.active = &activeRun{run: run}
	s.logger.Info("run launched", "run_id", run.ID, "graph", run.Graph)

	out := *run
	return &out, nil
}

// Stop asks the active run, if any, to stop. The run's record is finished
// once its done event has been dispatched.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.do(ctx, func() {
		s.ctrl.Stop()
	})
}

// Status reports the controller state and the active run.
func (s *Supervisor) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := s.do(ctx, func() {
		st = Status{
			State:          s.ctrl.State().String(),
			PendingEvents:  s.ctrl.Pending(),
			LiveFrames:     s.pool.Live(),
			GPUActive:      s.gpu.Active(),
			GPUActivations: s.gpu.Activations(),
			GPUViolations:  s.gpu.Violations(),
		}
		if g := s.ctrl.Graph(); g != nil {
			st.Graph = g.Name()
		}
		if s.active != nil {
			r := *s.active.run
			r.FrameCount = int(s.active.frames)
			st.Run = &r
		}
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

// onFrame persists and publishes a delivered frame. It runs on the launcher
// and must not keep f beyond the call.
func (s *Supervisor) onFrame(producerID string, f runner.Frame, userData any) {
	ar := s.active
	if ar == nil {
		return
	}

	rec := &model.FrameRecord{
		RunID:     ar.run.ID,
		Seq:       ar.frames,
		Producer:  producerID,
		CreatedAt: time.Now().UTC(),
	}
	ar.frames++
	if userData != nil {
		rec.UserData = fmt.Sprint(userData)
	}
	if fr, ok := f.(*frame.Frame); ok {
		format := fr.Format()
		rec.Width, rec.Height = format.Width, format.Height
		rec.Checksum = fmt.Sprintf("%016x", xxhash.Sum64(fr.Data()))
	}

	if err := s.store.InsertFrame(context.Background(), rec); err != nil {
		persistErrors.Inc()
		s.logger.Error("failed to persist frame", "run_id", rec.RunID, "seq", rec.Seq, "error", err)
	} else {
		framesPersisted.Inc()
	}

	msg, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to encode frame", "run_id", rec.RunID, "seq", rec.Seq, "error", err)
		return
	}
	s.broker.Publish(rec.RunID, rec.Seq, msg)
}

// onDone finishes the run record and ends its frame stream.
func (s *Supervisor) onDone(outcome runner.Outcome, err error) {
	ar := s.active
	s.active = nil
	if ar == nil {
		return
	}

	status := model.StatusCompleted
	if outcome == runner.OutcomeStopped {
		status = model.StatusStopped
	}
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}

	if ferr := s.store.FinishRun(context.Background(), ar.run.ID, status, errMsg, time.Now().UTC()); ferr != nil {
		persistErrors.Inc()
		s.logger.Error("failed to finish run", "run_id", ar.run.ID, "error", ferr)
	}
	s.broker.Close(ar.run.ID)
	s.logger.Info("run recorded", "run_id", ar.run.ID, "status", status, "frames", ar.frames)
}
