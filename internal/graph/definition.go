package graph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is returned for graph definitions that cannot be built.
var ErrInvalidDefinition = errors.New("invalid graph definition")

// Definition describes a pipeline: a source, zero or more transforms and a
// callback sink, in that order.
type Definition struct {
	GraphName   string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Filters     []FilterSpec `yaml:"filters" json:"filters"`
}

// FilterSpec configures one filter of a pipeline.
type FilterSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Type   string         `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Name returns the graph name.
func (d *Definition) Name() string { return d.GraphName }

// Validate checks the pipeline shape and every filter's parameters.
func (d *Definition) Validate() error {
	if d.GraphName == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.Filters) < 2 {
		return fmt.Errorf("%w: %s: need at least a source and a sink", ErrInvalidDefinition, d.GraphName)
	}

	seen := make(map[string]bool, len(d.Filters))
	last := len(d.Filters) - 1
	for i, spec := range d.Filters {
		if spec.Name == "" {
			return fmt.Errorf("%w: %s: filter %d has no name", ErrInvalidDefinition, d.GraphName, i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("%w: %s: duplicate filter name %q", ErrInvalidDefinition, d.GraphName, spec.Name)
		}
		seen[spec.Name] = true

		f, err := newFilter(spec)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, d.GraphName, err)
		}

		_, isSource := f.(sourceFilter)
		_, isSink := f.(*callbackFilter)
		switch {
		case i == 0 && !isSource:
			return fmt.Errorf("%w: %s: first filter %q must be a source", ErrInvalidDefinition, d.GraphName, spec.Name)
		case i != 0 && isSource:
			return fmt.Errorf("%w: %s: source %q must come first", ErrInvalidDefinition, d.GraphName, spec.Name)
		case i == last && !isSink:
			return fmt.Errorf("%w: %s: last filter %q must be a callback", ErrInvalidDefinition, d.GraphName, spec.Name)
		case i != last && isSink:
			return fmt.Errorf("%w: %s: callback %q must come last", ErrInvalidDefinition, d.GraphName, spec.Name)
		}
	}
	return nil
}

// ParseDefinition decodes and validates a YAML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDefinition reads a YAML definition from path.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	d, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// LoadDir reads every *.yaml and *.yml definition in dir, sorted by file name.
func LoadDir(dir string) ([]*Definition, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob graphs: %w", err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, p := range paths {
		d, err := LoadDefinition(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}
