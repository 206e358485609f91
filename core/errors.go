// Package core implements the target-graph half of the build system:
// configuration, the per-package manifest produced by the evaluator, the
// typed TargetNode the resolver coerces raw attributes into, and the
// TargetGraph the assembler builds from them.
package core

import (
	"fmt"

	"github.com/thought-machine/forge/label"
)

// ParseError is raised by the build-file evaluator for syntactic errors,
// evaluation errors, missing load targets, duplicate target names, or use
// of forbidden primitives.
type ParseError struct {
	Kind     string // e.g. "Syntax", "Eval", "MissingLoad", "Forbidden", "Cycle", "DuplicateTarget"
	Location string // file path, optionally with :line:col
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s) at %s: %s", e.Kind, e.Location, e.Message)
}

// CoerceError is raised when a raw attribute value cannot be coerced into
// the rule's declared schema type.
type CoerceError struct {
	Target       label.BuildTarget
	Attribute    string
	Value        interface{}
	ExpectedType string
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("%s: cannot coerce attribute %q (value %v) to %s", e.Target, e.Attribute, e.Value, e.ExpectedType)
}

// CycleError is raised when the target graph assembler's post-order
// traversal detects a back-edge.
type CycleError struct {
	Path []label.BuildTarget
}

func (e *CycleError) Error() string {
	s := "dependency cycle detected:"
	for _, t := range e.Path {
		s += "\n  -> " + t.String()
	}
	return s
}

// VisibilityError is raised when a dependency does not match any of the
// depended-upon target's visibility patterns.
type VisibilityError struct {
	From, To label.BuildTarget
}

func (e *VisibilityError) Error() string {
	return fmt.Sprintf("%s is not visible to %s", e.To, e.From)
}

// PackageBoundaryError is raised when a target's input files lie outside
// the package owning its base path.
type PackageBoundaryError struct {
	Target label.BuildTarget
	Path   string
}

func (e *PackageBoundaryError) Error() string {
	return fmt.Sprintf("%s: input path %q lies outside the owning package", e.Target, e.Path)
}

// ConfigurationError is raised when a select() has no branch satisfied by
// the active configuration and no declared default.
type ConfigurationError struct {
	Target  label.BuildTarget
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, e.Message)
}
