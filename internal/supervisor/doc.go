// Package supervisor owns the launcher goroutine of a runner.Controller.
// It serialises control calls onto that goroutine, dispatches the
// controller's events there, persists every delivered frame and relays it
// to live subscribers through a FrameBroker.
package supervisor
