package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownGraph is returned when resolving a name that was never registered.
var ErrUnknownGraph = errors.New("unknown graph")

// Info summarizes a registered graph.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Filters     []string `json:"filters"`
}

// Registry holds graph definitions by name.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		graphs: make(map[string]*Definition),
	}
}

// Register validates def and adds it, replacing any graph of the same name.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[def.Name()] = def
	return nil
}

// Resolve returns the definition registered under name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGraph, name)
	}
	return def, nil
}

// List returns all registered graphs sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.graphs))
	for name, def := range r.graphs {
		filters := make([]string, len(def.Filters))
		for i, f := range def.Filters {
			filters[i] = f.Name + ":" + f.Type
		}
		infos = append(infos, Info{
			Name:        name,
			Description: def.Description,
			Filters:     filters,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// LoadDir registers every definition found in dir and returns how many were
// loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	defs, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return 0, err
		}
	}
	return len(defs), nil
}

// Builtins returns the graphs every registry starts with in filterd.
func Builtins() []*Definition {
	return []*Definition{
		{
			GraphName:   "pattern",
			Description: "Thirty inverted gradient frames, as fast as possible.",
			Filters: []FilterSpec{
				{Name: "camera", Type: TypePattern, Params: map[string]any{"count": 30}},
				{Name: "invert", Type: TypeInvert},
				{Name: "preview", Type: TypeCallback, Params: map[string]any{"user_data": "preview"}},
			},
		},
		{
			GraphName:   "pattern-slow",
			Description: "Brightened gradient frames paced at roughly 30 per second.",
			Filters: []FilterSpec{
				{Name: "camera", Type: TypePattern, Params: map[string]any{"count": 90, "interval": "33ms"}},
				{Name: "gain", Type: TypeGain, Params: map[string]any{"factor": 1.5}},
				{Name: "preview", Type: TypeCallback},
			},
		},
	}
}

// NewBuiltinRegistry returns a registry preloaded with Builtins.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Builtins() {
		if err := r.Register(d); err != nil {
			panic(fmt.Sprintf("builtin graph %s: %v", d.Name(), err))
		}
	}
	return r
}
