package core

import "github.com/thought-machine/forge/label"

// A TargetNode is a configured, typed target: the result of the resolver
// coercing a RawTargetNode's attributes against its rule's schema and
// resolving any selector lists against the active configuration.
type TargetNode struct {
	Target   label.BuildTarget
	RuleType RuleType
	// Args holds the coerced constructor arguments, keyed by attribute name.
	Args map[string]interface{}

	// DeclaredDeps are the deps the build file author wrote explicitly.
	DeclaredDeps []label.BuildTarget
	// ExtraDeps are deps implied by the rule description (ImplicitDeps)
	// or by configuration-driven toolchains.
	ExtraDeps []label.BuildTarget
	// RuntimeDeps are needed only at execution time, not to build this
	// target.
	RuntimeDeps []label.BuildTarget
	// TestTargets names any targets that exercise this one.
	TestTargets []label.BuildTarget

	// Visibility lists the patterns that may depend on this node.
	Visibility []label.Pattern
	// Inputs are the input file paths this node declares, already
	// normalized relative to the cell root.
	Inputs []string
}

// ParseDeps returns the union of declared + extra + configuration deps:
// the edges this node contributes to the target graph.
func (n *TargetNode) ParseDeps() []label.BuildTarget {
	seen := make(map[label.BuildTarget]bool, len(n.DeclaredDeps)+len(n.ExtraDeps))
	out := make([]label.BuildTarget, 0, len(n.DeclaredDeps)+len(n.ExtraDeps))
	add := func(t label.BuildTarget) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, d := range n.DeclaredDeps {
		add(d)
	}
	for _, d := range n.ExtraDeps {
		add(d)
	}
	return out
}

// AllDeps returns parse-time deps plus runtime deps, used by the target
// graph assembler when it needs the complete dependency surface of a node.
func (n *TargetNode) AllDeps() []label.BuildTarget {
	out := n.ParseDeps()
	out = append(out, n.RuntimeDeps...)
	return out
}

// CheckVisibility verifies that `from` is permitted to depend on this
// node. Visibility is checked at graph-assembly time, the earliest
// point with all the necessary information.
func (n *TargetNode) CheckVisibility(from label.BuildTarget) error {
	// A target with no visibility list is unrestricted; one is only
	// hidden from packages its declared list doesn't cover.
	if len(n.Visibility) == 0 {
		return nil
	}
	// A target is always visible to other targets in the same package.
	if from.Cell == n.Target.Cell && from.BasePath == n.Target.BasePath {
		return nil
	}
	for _, pattern := range n.Visibility {
		if pattern.Matches(from) {
			return nil
		}
	}
	return &VisibilityError{From: from, To: n.Target}
}
