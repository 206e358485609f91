// Package label implements the canonical identity of a build target:
// cell-qualified, flavored, configuration-scoped labels of the form
// [@cell]//base/path:short_name[#flavor,flavor].
package label

import (
	"fmt"
	"sort"
	"strings"
)

// A BuildTarget is the canonical, immutable identity of a target.
// Equality and hashing are over the normalized
// tuple (Cell, BasePath, Name, sorted Flavors, Configuration); ordering is
// lexicographic over the same tuple.
//
// BuildTarget intentionally carries no pointers and no mutable state: two
// BuildTarget values with equal fields are the same target, full stop,
// which is what lets it be used directly as a map key throughout the
// action graph and rule-key layers.
type BuildTarget struct {
	// Cell is the namespace this target lives in. Empty means the root cell.
	Cell string
	// BasePath is the package directory, relative to the cell root. Empty
	// string is the cell root package itself.
	BasePath string
	// Name is the short (package-local) name of the target.
	Name string
	// Flavors is an ordered set of qualifiers (platform, mode, …) that
	// select a derived variant of the declared target, stored in its
	// canonical comma-joined, sorted form so that two BuildTargets built
	// from the same flavor set in different orders compare equal and the
	// struct stays comparable (usable directly as a map key).
	Flavors string
	// Configuration references a target configuration (platform/constraint
	// set). Empty string means "unconfigured" / the default configuration.
	Configuration string
}

// New constructs a BuildTarget from its components, normalizing the
// flavor set (sorted, deduplicated) so construction is the single point
// where the normal form is established.
func New(cell, basePath, name string, flavors []string, configuration string) BuildTarget {
	return BuildTarget{
		Cell:          cell,
		BasePath:      normalizeBasePath(basePath),
		Name:          name,
		Flavors:       normalizeFlavors(flavors),
		Configuration: configuration,
	}
}

func normalizeBasePath(p string) string {
	return strings.Trim(p, "/")
}

func normalizeFlavors(flavors []string) string {
	if len(flavors) == 0 {
		return ""
	}
	out := append([]string(nil), flavors...)
	sort.Strings(out)
	// dedup in place
	n := 0
	for i, f := range out {
		if i == 0 || out[n-1] != f {
			out[n] = f
			n++
		}
	}
	return strings.Join(out[:n], ",")
}

// String renders the fully-qualified label form:
// [@cell]//base/path:short_name[#flavor,flavor]
func (t BuildTarget) String() string {
	var b strings.Builder
	if t.Cell != "" {
		b.WriteString("@")
		b.WriteString(t.Cell)
	}
	b.WriteString("//")
	b.WriteString(t.BasePath)
	b.WriteString(":")
	b.WriteString(t.Name)
	if t.Flavors != "" {
		b.WriteString("#")
		b.WriteString(t.Flavors)
	}
	return b.String()
}

// FlavorList returns the flavor set as a slice, split back out of its
// canonical joined form.
func (t BuildTarget) FlavorList() []string {
	if t.Flavors == "" {
		return nil
	}
	return strings.Split(t.Flavors, ",")
}

// Key returns a value suitable for use as a map key that ignores
// Configuration — useful for the subset of callers (e.g. the per-build-file
// manifest) that only ever see one configuration at a time.
func (t BuildTarget) Key() BuildTarget {
	u := t
	u.Configuration = ""
	return u
}

// WithConfiguration returns a copy of the target pinned to the given
// configuration, used by the versioning/configuration pass.
func (t BuildTarget) WithConfiguration(configuration string) BuildTarget {
	u := t
	u.Configuration = configuration
	return u
}

// WithFlavors returns a copy of the target with an additional flavor
// applied. Used when lowering a declared target into a flavored variant.
func (t BuildTarget) WithFlavors(flavors ...string) BuildTarget {
	u := t
	u.Flavors = normalizeFlavors(append(t.FlavorList(), flavors...))
	return u
}

// PackageName returns the package this target's base path identifies,
// i.e. the directory a build file would live in.
func (t BuildTarget) PackageName() string {
	return t.BasePath
}

// Compare implements a total lexicographic order over the normalized
// tuple, used to keep dependency lists and rule-key inputs in a stable,
// reproducible order.
func (t BuildTarget) Compare(other BuildTarget) int {
	if c := strings.Compare(t.Cell, other.Cell); c != 0 {
		return c
	}
	if c := strings.Compare(t.BasePath, other.BasePath); c != 0 {
		return c
	}
	if c := strings.Compare(t.Name, other.Name); c != 0 {
		return c
	}
	if c := strings.Compare(t.Flavors, other.Flavors); c != 0 {
		return c
	}
	return strings.Compare(t.Configuration, other.Configuration)
}

// Less reports whether t sorts before other; convenience wrapper over Compare
// for use with sort.Slice.
func (t BuildTarget) Less(other BuildTarget) bool {
	return t.Compare(other) < 0
}

// IsAllSubpackages reports whether this value actually represents a
// recursive `…` pattern rather than a concrete target. Patterns are
// represented as BuildTarget values with Name == "..." by convention so
// that TargetNodeSpec (see pattern.go) can reuse the same comparison and
// string-rendering machinery.
func (t BuildTarget) IsAllSubpackages() bool {
	return t.Name == "..."
}

// Sort sorts a slice of BuildTargets in place using Compare.
func Sort(targets []BuildTarget) {
	sort.Slice(targets, func(i, j int) bool { return targets[i].Less(targets[j]) })
}

// ParseError is returned by Parse when a label string is malformed.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid build label %q: %s", e.Input, e.Reason)
}
