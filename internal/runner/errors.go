package runner

import "errors"

var (
	// ErrAlreadyRunning is returned by Run and SetGraph while a run is active.
	ErrAlreadyRunning = errors.New("graph is already running")

	// ErrNoGraphBound is returned by Run before any graph was set.
	ErrNoGraphBound = errors.New("no graph bound")

	// ErrPreconditionViolation reports an engine that failed AssertReady.
	ErrPreconditionViolation = errors.New("engine precondition violated")

	// ErrEnginePanic reports a panic recovered on the worker goroutine.
	ErrEnginePanic = errors.New("engine panicked")
)
