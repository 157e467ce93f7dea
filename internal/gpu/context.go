// Package gpu provides a software rendering context that enforces the
// single-owner rule of real GPU contexts.
package gpu

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrAlreadyActive is returned when activating a context that is current.
	ErrAlreadyActive = errors.New("gpu context already active")

	// ErrNotActive is returned when deactivating a context that is not current.
	ErrNotActive = errors.New("gpu context not active")
)

// Context is a rendering context that can be current on one thread at a time.
// Protocol violations are refused and counted rather than silently accepted.
type Context struct {
	logger *slog.Logger

	mu          sync.Mutex
	active      bool
	activations int
	violations  int
}

// NewContext creates an inactive context.
func NewContext(logger *slog.Logger) *Context {
	return &Context{logger: logger}
}

// Activate makes the context current for the caller.
func (c *Context) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		c.violations++
		c.logger.Error("gpu context activated while held")
		return ErrAlreadyActive
	}
	c.active = true
	c.activations++
	return nil
}

// Deactivate releases the context.
func (c *Context) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		c.violations++
		c.logger.Error("gpu context released while not held")
		return ErrNotActive
	}
	c.active = false
	return nil
}

// Active reports whether the context is currently held.
func (c *Context) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activations returns how many times the context was successfully made current.
func (c *Context) Activations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}

// Violations returns the number of refused activate/deactivate calls.
func (c *Context) Violations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}
