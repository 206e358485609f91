package parse

import (
	"path/filepath"
	"sort"
)

// Glob expands include/exclude filesystem glob patterns rooted at dir
// against fs.ListDir, returning matches relative to dir — the same
// package-relative form hand-written srcs use. Patterns are standard
// filepath.Match-style shell globs, matched against the path relative to
// dir; "*" does not cross a "/" so nested matches require "*/*.go"-style
// patterns or a glob that is itself implicitly recursive (callers wanting
// `...`-style package discovery use Pattern.Matches in the label package
// instead, which Glob does not need to know about).
func Glob(fs FileSystem, dir string, include, exclude []string) ([]string, error) {
	files, err := fs.ListDir(dir)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, f := range files {
		if matchesAny(f, include) && !matchesAny(f, exclude) {
			matches = append(matches, f)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
