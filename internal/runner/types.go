package runner

// State is the lifecycle state of a Controller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Outcome classifies how a run ended.
type Outcome int

const (
	// OutcomeCompleted means the engine reported a terminal status and no
	// stop was requested.
	OutcomeCompleted Outcome = iota
	// OutcomeStopped means a stop was observed, or the run could not proceed.
	OutcomeStopped
)

func (o Outcome) String() string {
	if o == OutcomeCompleted {
		return "completed"
	}
	return "stopped"
}

// StepStatus is the result of a single engine step.
type StepStatus int

const (
	StepRunning StepStatus = iota
	StepSleeping
	StepFinished
	StepBlocked
	StepError
)

// IsTerminal reports whether the status ends the step loop.
func (s StepStatus) IsTerminal() bool {
	return s != StepRunning && s != StepSleeping
}

func (s StepStatus) String() string {
	switch s {
	case StepRunning:
		return "running"
	case StepSleeping:
		return "sleeping"
	case StepFinished:
		return "finished"
	case StepBlocked:
		return "blocked"
	case StepError:
		return "error"
	default:
		return "unknown"
	}
}

// StepEngine is a synchronous graph stepper. Only one goroutine calls into
// it at a time.
type StepEngine interface {
	// Open prepares the engine. Calling it twice is a no-op.
	Open() error

	// AssertReady verifies the engine can be stepped. A non-nil error is a
	// contract violation by whoever built the engine.
	AssertReady() error

	// Step performs one unit of work.
	Step(blocking bool) StepStatus

	// WaitUntilWake blocks until the engine has work again after a
	// StepSleeping result.
	WaitUntilWake()

	// Close releases engine resources. It is called exactly once per run,
	// including after a stop.
	Close()
}

// GPUContext is a rendering context that may be current on one thread at a
// time.
type GPUContext interface {
	Activate() error
	Deactivate() error
}

// Frame is a reference counted artifact produced by the engine.
type Frame interface {
	Retain()
	Release()
}

// Graph is the unit bound to a Controller with SetGraph.
type Graph interface {
	Name() string
}

// EngineFactory builds a fresh StepEngine for a graph.
type EngineFactory func(g Graph) (StepEngine, error)

// FrameObserver receives frames on the launcher goroutine. The frame is
// released after the observer returns; observers that keep it must Retain
// it themselves.
type FrameObserver func(producerID string, f Frame, userData any)

// DoneObserver is invoked once per run on the launcher goroutine. err is
// non-nil only when the run could not proceed normally.
type DoneObserver func(outcome Outcome, err error)

// FrameForwarder is handed to the engine so it can report produced frames
// from the worker goroutine.
type FrameForwarder func(producerID string, f Frame, userData any)
