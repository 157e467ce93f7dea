// Package runner executes a synchronous step engine on a dedicated worker
// goroutine and relays its results back to the launcher goroutine that owns
// the Controller.
//
// The worker drives the engine one step at a time, checks for cooperative
// cancellation between steps, and always closes the engine before it posts a
// single completion event. Frames reported by the engine while it runs are
// retained on the worker, queued in production order, and released on the
// launcher after the frame observer returns. Exclusive use of the GPU context
// is handed from the launcher to the worker when a run starts and back when
// its completion event is dispatched.
package runner
