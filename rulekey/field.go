package rulekey

import "github.com/thought-machine/forge/label"

// Scope marks which key Kinds a Field contributes to. The zero value
// means "every kind" — most fields (rule type, most attributes) affect
// every flavor of key; only a rule's declared inputs typically need to
// be scoped more narrowly for InputBasedKey/DepFileKey.
type Scope uint8

const (
	InDefaultKey    Scope = 1 << iota
	InInputBasedKey
	InDepFileKey

	AllScopes = InDefaultKey | InInputBasedKey | InDepFileKey
)

func (s Scope) includes(kind Kind) bool {
	if s == 0 {
		s = AllScopes
	}
	switch kind {
	case DefaultKey:
		return s&InDefaultKey != 0
	case InputBasedKey:
		return s&InInputBasedKey != 0
	case DepFileKey:
		return s&InDepFileKey != 0
	}
	return false
}

// FileInput marks a Field value as a filesystem path whose *content
// hash*, not its literal string, should be fed into the rule key.
type FileInput string

// A Field is one declared, hashable attribute of a rule. Value
// must be one of: string, bool, int64, []string, FileInput, []FileInput.
// Rule descriptions are responsible for presenting Fields in a fixed,
// meaningful order — the factory never reorders them, only filters by
// Scope and, for collection values, sorts within a field when
// Unordered is set.
type Field struct {
	Name      string
	Value     interface{}
	Scopes    Scope
	Unordered bool

	// DepFileFilter, when set, narrows a FileInput/[]FileInput field's
	// contribution to DepFileKey computation to paths it reports true
	// for. Ignored for other Kinds.
	DepFileFilter func(path string) bool
}

// A Rule is the minimal view of a build rule the factory needs: its
// identity, build-deps (whose rule keys fold in recursively), and
// declared hashable Fields. Deliberately independent of the action
// package's BuildRule (which carries executable Steps the factory has no
// business touching) to keep rulekey free of any import-cycle risk and
// trivially unit-testable with fakes.
type Rule struct {
	Target    label.BuildTarget
	BuildDeps []label.BuildTarget
	Fields    []Field
}
