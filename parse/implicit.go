package parse

import (
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// ImplicitPackageConfig is the configuration-driven map from
// package-path prefix to extension symbols; the deepest matching prefix
// wins, and its symbols are injected into the build file's global scope
// before evaluation.
type ImplicitPackageConfig struct {
	// entries maps a package-path prefix to its symbol table. "" matches
	// every package (the root default).
	entries map[string]starlark.StringDict
}

// NewImplicitPackageConfig constructs an ImplicitPackageConfig from a
// prefix -> symbols map.
func NewImplicitPackageConfig(entries map[string]starlark.StringDict) *ImplicitPackageConfig {
	return &ImplicitPackageConfig{entries: entries}
}

// SymbolsFor returns a copy of the symbol table for the deepest prefix
// matching basePath; symbols of shallower prefixes are not included. The
// predeclared argument is not used: the caller merges the result into
// its predeclared set, so the fixed primitives stay available.
func (c *ImplicitPackageConfig) SymbolsFor(basePath string, _ starlark.StringDict) starlark.StringDict {
	best := ""
	for prefix := range c.entries {
		if matchesPrefix(basePath, prefix) && len(prefix) >= len(best) {
			best = prefix
		}
	}
	out := make(starlark.StringDict, len(c.entries[best]))
	for k, v := range c.entries[best] {
		out[k] = v
	}
	return out
}

// Symbol looks up one implicit symbol by name for basePath, honoring the
// same deepest-prefix-wins rule as SymbolsFor.
func (c *ImplicitPackageConfig) Symbol(basePath, name string) (starlark.Value, bool) {
	symbols := c.SymbolsFor(basePath, nil)
	v, ok := symbols[name]
	return v, ok
}

func matchesPrefix(basePath, prefix string) bool {
	if prefix == "" {
		return true
	}
	return basePath == prefix || strings.HasPrefix(basePath, prefix+"/")
}

// prefixesSortedByDepth is a small helper kept for callers (e.g. tooling)
// that want a human-readable precedence listing.
func (c *ImplicitPackageConfig) prefixesSortedByDepth() []string {
	prefixes := make([]string, 0, len(c.entries))
	for p := range c.entries {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return prefixes
}
