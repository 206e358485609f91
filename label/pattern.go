package label

import "strings"

// A PatternKind classifies a target pattern.
type PatternKind int

const (
	// SingleTarget is a fully-specified target, e.g. //spam/eggs:ham.
	SingleTarget PatternKind = iota
	// Package is every target declared directly in one package, e.g. //spam/eggs:all (pkg:).
	Package
	// Recursive is every target in a package and all its subpackages, e.g. //spam/eggs/...
	Recursive
)

// A Pattern is a target pattern: a single target, a package, or a
// recursive subtree, carrying the owning cell and base path.
type Pattern struct {
	Cell     string
	BasePath string
	Kind     PatternKind
	// Name is only meaningful when Kind == SingleTarget.
	Name string
}

// ParsePattern parses a target pattern string into a Pattern, recognising
// the "..." recursive suffix and the bare "pkg:" / "pkg:all" package forms.
func ParsePattern(input, currentCell, currentPackage string) (Pattern, error) {
	if strings.HasSuffix(input, ":") {
		input += "all"
	}
	t, err := Parse(input, currentCell, currentPackage)
	if err != nil {
		return Pattern{}, err
	}
	if t.Name == "..." {
		return Pattern{Cell: t.Cell, BasePath: t.BasePath, Kind: Recursive}, nil
	}
	if t.Name == "all" {
		return Pattern{Cell: t.Cell, BasePath: t.BasePath, Kind: Package}, nil
	}
	return Pattern{Cell: t.Cell, BasePath: t.BasePath, Kind: SingleTarget, Name: t.Name}, nil
}

// String renders the pattern back to label syntax.
func (p Pattern) String() string {
	switch p.Kind {
	case Recursive:
		return New(p.Cell, p.BasePath, "...", nil, "").String()
	case Package:
		return New(p.Cell, p.BasePath, "all", nil, "").String()
	default:
		return New(p.Cell, p.BasePath, p.Name, nil, "").String()
	}
}

// Matches reports whether t falls within this pattern.
func (p Pattern) Matches(t BuildTarget) bool {
	if t.Cell != p.Cell {
		return false
	}
	switch p.Kind {
	case SingleTarget:
		return t.BasePath == p.BasePath && t.Name == p.Name
	case Package:
		return t.BasePath == p.BasePath
	case Recursive:
		if p.BasePath == "" {
			return true
		}
		return t.BasePath == p.BasePath || hasPathPrefix(t.BasePath, p.BasePath)
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) <= len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}
