// Package action implements the action graph builder: memoized lowering
// of TargetNodes into BuildRules, the units of executable work the
// build engine schedules.
package action

import (
	"context"

	"github.com/thought-machine/forge/label"
	"github.com/thought-machine/forge/rulekey"
)

// A Step is one side-effectful unit of a BuildRule's recipe. The
// build engine (outside this package) is responsible for actually
// running Steps in order and reporting STARTED/SUSPEND/RESUME/FINISHED
// events; this package only produces them.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// A DepFilePredicate reports whether a declared input path was actually
// consumed by the rule's last execution. Rules that track their used
// inputs supply one after their steps have run; the engine uses it to
// narrow the rule's declared inputs when computing its dep-file key.
type DepFilePredicate func(path string) bool

// A BuildRule is a unit of executable work lowered from exactly one
// TargetNode. Rule descriptions construct a BuildRule's Steps closure
// as a pure function of the BuildRule's own fields plus whatever
// SourcePathResolver.Resolve returns; no other input may influence what
// steps are produced, since rule-key determinism depends on that
// purity.
type BuildRule struct {
	Target label.BuildTarget

	// BuildDeps are other rules that must reach DONE before this rule's
	// Steps may run.
	BuildDeps []label.BuildTarget
	// RuntimeDeps are needed for execution but not to build this rule.
	RuntimeDeps []label.BuildTarget

	// Steps produces this rule's side-effectful recipe. It is invoked
	// once per local execution, never concurrently for the same rule.
	Steps func(ctx context.Context) ([]Step, error)

	// Outputs is this rule's output source path(s).
	Outputs []string

	// Fields lists this rule's hashable attributes in stable declaration
	// order, consumed by the rule-key factory.
	// Rule descriptions populate this alongside Steps when they lower a
	// TargetNode; BuildDeps themselves are folded in separately by the
	// factory, so Fields should hold everything else that affects the
	// rule's build identity (command lines, flags, declared inputs).
	Fields []rulekey.Field

	// DepFile, when non-nil, is invoked by the engine after this rule's
	// steps complete successfully, yielding the predicate that narrows
	// the declared inputs to the ones the execution actually consumed.
	// nil means the rule doesn't support dep-file keys.
	DepFile func(ctx context.Context) (DepFilePredicate, error)
}

// AsRuleKeyRule adapts a BuildRule to the minimal view rulekey.Factory
// needs, keeping the two packages decoupled (rulekey has no dependency
// on action, so callers — typically the engine — do this conversion
// rather than rulekey importing action's richer BuildRule directly).
func (r *BuildRule) AsRuleKeyRule() rulekey.Rule {
	return rulekey.Rule{Target: r.Target, BuildDeps: r.BuildDeps, Fields: r.Fields}
}

// AsDepFileRule adapts the rule for dep-file key computation, attaching
// pred as the DepFileFilter of every file-input field so the factory
// only hashes the inputs the last execution actually consumed.
func (r *BuildRule) AsDepFileRule(pred DepFilePredicate) rulekey.Rule {
	fields := make([]rulekey.Field, len(r.Fields))
	for i, f := range r.Fields {
		switch f.Value.(type) {
		case rulekey.FileInput, []rulekey.FileInput:
			f.DepFileFilter = pred
		}
		fields[i] = f
	}
	return rulekey.Rule{Target: r.Target, BuildDeps: r.BuildDeps, Fields: fields}
}
