package core

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/thought-machine/forge/label"
)

// A VersionResolver implements the versioning pass's constraint solver:
// pick a version per subject such that all dependents' constraints are
// satisfied. Implementations must be deterministic. The core defines
// only the interface; specific solving strategies are pluggable.
type VersionResolver interface {
	// Resolve picks, for each versioned subject, the pinned version to
	// specialize it to, given the constraints every dependent placed on it.
	Resolve(subjects map[string][]*semver.Constraints) (map[string]*semver.Version, error)
}

// GreatestSatisfying is the default VersionResolver: for each subject, it
// picks the greatest version (of the ones supplied via Candidates) that
// satisfies every constraint placed on it. It is deterministic because
// semver.Version ordering is total and Candidates is walked in descending
// version order, whatever order the caller supplied it in.
type GreatestSatisfying struct {
	// Candidates lists the known available versions per subject, in any
	// order; Resolve sorts them internally.
	Candidates map[string][]*semver.Version
}

// Resolve implements VersionResolver.
func (g GreatestSatisfying) Resolve(subjects map[string][]*semver.Constraints) (map[string]*semver.Version, error) {
	result := make(map[string]*semver.Version, len(subjects))
	for subject, constraints := range subjects {
		candidates := append([]*semver.Version(nil), g.Candidates[subject]...)
		sort.Sort(sort.Reverse(semver.Collection(candidates)))
		var chosen *semver.Version
		for _, candidate := range candidates {
			if satisfiesAll(candidate, constraints) {
				chosen = candidate
				break
			}
		}
		if chosen == nil {
			return nil, fmt.Errorf("no version of %q satisfies all constraints", subject)
		}
		result[subject] = chosen
	}
	return result, nil
}

func satisfiesAll(v *semver.Version, constraints []*semver.Constraints) bool {
	for _, c := range constraints {
		if !c.Check(v) {
			return false
		}
	}
	return true
}

// ApplyVersioning rewrites a frozen TargetGraph, replacing each subject
// label with a configuration-pinned specialization chosen by resolver.
// It returns a new, independently valid TargetGraph; the input graph is
// untouched.
func ApplyVersioning(graph *TargetGraph, resolver VersionResolver, constraints map[string][]*semver.Constraints) (*TargetGraph, error) {
	versions, err := resolver.Resolve(constraints)
	if err != nil {
		return nil, err
	}
	builder := NewBuilder()
	for _, n := range graph.Nodes() {
		rewritten := *n
		if v, ok := versions[n.Target.BasePath+":"+n.Target.Name]; ok {
			rewritten.Target = n.Target.WithConfiguration(v.String())
		}
		rewritten.DeclaredDeps = rewriteDeps(n.DeclaredDeps, versions)
		rewritten.ExtraDeps = rewriteDeps(n.ExtraDeps, versions)
		builder.Add(&rewritten)
	}
	roots := make([]label.BuildTarget, 0, len(graph.Nodes()))
	for _, n := range graph.Nodes() {
		roots = append(roots, n.Target)
	}
	return builder.Freeze(roots)
}

func rewriteDeps(deps []label.BuildTarget, versions map[string]*semver.Version) []label.BuildTarget {
	out := make([]label.BuildTarget, len(deps))
	for i, d := range deps {
		if v, ok := versions[d.BasePath+":"+d.Name]; ok {
			out[i] = d.WithConfiguration(v.String())
		} else {
			out[i] = d
		}
	}
	return out
}
