package core

import "github.com/thought-machine/forge/label"

// A RuleDescription is the pluggable, language-specific half of a rule
// type: the attribute schema, how to construct typed args from raw
// attributes, implicit dependencies, and arbitrary rule metadata.
//
// The core treats RuleType as a closed, tagged union of BUILD/CONFIGURATION
// kinds, but the language/domain rule layers that sit outside the core
// (Java, Go, Android, C++ and so on) are an open registry of these,
// keyed by rule-type name. The core never
// switches on a rule's name; it only calls through this interface.
type RuleDescription interface {
	// Type returns the RuleType this description answers for.
	Type() RuleType

	// ConstructorArgSchema returns, per declared attribute name, a
	// Coercer used by the target resolver.
	ConstructorArgSchema() map[string]Coercer

	// ImplicitDeps returns any dependencies a target of this rule type
	// carries beyond what it declared explicitly, derived from its
	// (already-coerced) attribute map.
	ImplicitDeps(attrs map[string]interface{}) []label.BuildTarget

	// MetadataFor returns arbitrary rule-specific metadata of the named
	// kind for a target, or (nil, false) if this rule type doesn't
	// produce metadata of that kind.
	MetadataFor(target label.BuildTarget, kind string) (interface{}, bool)
}

// A Coercer converts a raw attribute value (as produced by the build-file
// evaluator) into its typed form, or returns a CoerceError.
type Coercer func(target label.BuildTarget, attribute string, raw interface{}) (interface{}, error)

// Registry is the open, name-keyed map of RuleDescriptions the
// language/domain rule layers register into; the core only ever reads
// from it via Lookup.
type Registry struct {
	descriptions map[string]RuleDescription
}

// NewRegistry constructs an empty rule-type registry.
func NewRegistry() *Registry {
	return &Registry{descriptions: make(map[string]RuleDescription)}
}

// Register adds a RuleDescription under its own type name. Panics on a
// duplicate registration, which can only be a programmer error (the set
// of rule types is fixed at process startup, well before any concurrent
// access begins).
func (r *Registry) Register(d RuleDescription) {
	name := d.Type().Name
	if _, exists := r.descriptions[name]; exists {
		panic("duplicate rule type registered: " + name)
	}
	r.descriptions[name] = d
}

// Lookup returns the RuleDescription for the named rule type.
func (r *Registry) Lookup(name string) (RuleDescription, bool) {
	d, ok := r.descriptions[name]
	return d, ok
}

// Names returns every registered rule type name, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptions))
	for name := range r.descriptions {
		names = append(names, name)
	}
	return names
}
