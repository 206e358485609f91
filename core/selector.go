package core

import "fmt"

// A ConstraintSet is the set of configuration keys a select() branch
// requires to be satisfied, e.g. {"os": "linux", "arch": "x86_64"}.
type ConstraintSet map[string]string

// Satisfies reports whether every constraint in the set holds against the
// given configuration values.
func (c ConstraintSet) Satisfies(config map[string]string) bool {
	for k, v := range c {
		if config[k] != v {
			return false
		}
	}
	return true
}

// A SelectorBranch is one `constraint-set: value` entry of a select({...})
// expression, in declaration order.
type SelectorBranch struct {
	Constraints ConstraintSet
	Value       interface{}
	// IsDefault marks the declared default branch.
	IsDefault bool
}

// A SelectorList is the raw, unresolved form of a select({...}) expression
// as produced by the build-file evaluator. It is a sum type: either
// a concrete value (Branches == nil) or a genuine select.
type SelectorList struct {
	Branches []SelectorBranch
}

// Resolve picks exactly one value: the first branch (in declaration
// order) whose constraint set is satisfied by config, falling back to the
// declared default. An unsatisfiable select with no default is a fatal
// ConfigurationError.
func (s SelectorList) Resolve(config map[string]string) (interface{}, error) {
	var defaultBranch *SelectorBranch
	for i := range s.Branches {
		b := &s.Branches[i]
		if b.IsDefault {
			defaultBranch = b
			continue
		}
		if b.Constraints.Satisfies(config) {
			return b.Value, nil
		}
	}
	if defaultBranch != nil {
		return defaultBranch.Value, nil
	}
	return nil, fmt.Errorf("select() has no branch satisfied by the active configuration and no default")
}
