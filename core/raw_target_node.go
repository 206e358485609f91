package core

import "github.com/thought-machine/forge/label"

// A RawTargetNode is the unresolved result of evaluating a build file for
// one declared target: its identity, rule type name, and attribute map
// with selector lists left unresolved. It is produced by the
// build-file evaluator and consumed by the target resolver, which coerces
// it into a TargetNode.
type RawTargetNode struct {
	Target   label.BuildTarget
	RuleType string
	// Attrs maps attribute name to raw value. A value may be a concrete
	// Go value (string, []string, bool, int, …) or a SelectorList.
	Attrs map[string]interface{}
}

// Manifest is the evaluator's output for one build file: every declared
// target's RawTargetNode, plus the provenance needed to decide whether a
// re-parse is necessary.
type Manifest struct {
	// Path is the build file this manifest was produced from.
	Path string
	// Targets maps short name to RawTargetNode.
	Targets map[string]*RawTargetNode
	// Includes is the ordered set of auxiliary files (extensions) loaded
	// while evaluating this build file.
	Includes []string
	// ConfigReads records every configuration key consulted during
	// evaluation (via read_config), with its observed value, so a later
	// config change can be recognised as invalidating this manifest.
	ConfigReads map[string]string
	// Globs records every glob() invocation made at parse time together
	// with the file set it matched, for glob_result_still_valid.
	Globs []RecordedGlob
}

// A RecordedGlob is one glob() invocation's pattern set and the files it
// matched at evaluation time.
type RecordedGlob struct {
	Include []string
	Exclude []string
	Matched []string
}
