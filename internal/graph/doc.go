// Package graph implements linear filter pipelines and the synchronous step
// engine that executes them. Definitions are loaded from YAML and kept in a
// Registry under their name.
package graph
