package label

import "strings"

// Parse parses a fully- or partially-qualified label string relative to
// currentCell/currentPackage, e.g. "//spam/eggs:ham", ":ham", "@other//x:y",
// "//spam/eggs" (short name defaults to the last path component), or a
// recursive pattern "//spam/...".
//
// String splitting is kept separate from validation so patterns and
// concrete labels can share the same parser.
func Parse(input, currentCell, currentPackage string) (BuildTarget, error) {
	cell, rest := splitCell(input, currentCell)
	basePath, name, flavors, err := splitPathNameFlavors(rest, currentPackage)
	if err != nil {
		return BuildTarget{}, err
	}
	if err := validateComponents(basePath, name); err != nil {
		return BuildTarget{}, err
	}
	return New(cell, basePath, name, flavors, ""), nil
}

func splitCell(input, currentCell string) (cell string, rest string) {
	if strings.HasPrefix(input, "@") {
		if idx := strings.Index(input, "//"); idx >= 0 {
			return input[1:idx], input[idx:]
		}
	}
	return currentCell, input
}

func splitPathNameFlavors(rest, currentPackage string) (basePath, name string, flavors []string, err error) {
	flavorPart := ""
	if idx := strings.Index(rest, "#"); idx >= 0 {
		flavorPart = rest[idx+1:]
		rest = rest[:idx]
	}
	if flavorPart != "" {
		flavors = strings.Split(flavorPart, ",")
	}

	switch {
	case strings.HasPrefix(rest, "//"):
		rest = rest[2:]
	case strings.HasPrefix(rest, ":"):
		rest = currentPackage + rest
	default:
		return "", "", nil, &ParseError{Input: rest, Reason: "labels must start with // or :"}
	}

	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		basePath = rest[:idx]
		name = rest[idx+1:]
		return basePath, name, flavors, nil
	}
	// No explicit short name: //spam/eggs == //spam/eggs:eggs,
	// //spam/eggs/... is the recursive pattern form.
	basePath = strings.TrimSuffix(rest, "/")
	if strings.HasSuffix(basePath, "...") {
		basePath = strings.TrimSuffix(basePath, "...")
		basePath = strings.TrimSuffix(basePath, "/")
		return basePath, "...", flavors, nil
	}
	parts := strings.Split(basePath, "/")
	return basePath, parts[len(parts)-1], flavors, nil
}

func validateComponents(basePath, name string) error {
	if strings.Contains(basePath, "..") && basePath != ".." {
		for _, part := range strings.Split(basePath, "/") {
			if part == ".." {
				return &ParseError{Input: basePath, Reason: "package path may not contain '..' components"}
			}
		}
	}
	if name == "" {
		return &ParseError{Input: basePath, Reason: "empty target name"}
	}
	if strings.ContainsAny(name, " \t\n") {
		return &ParseError{Input: name, Reason: "target name contains whitespace"}
	}
	return nil
}

// ParseAll parses a slice of label strings, relative to currentCell/currentPackage.
func ParseAll(inputs []string, currentCell, currentPackage string) ([]BuildTarget, error) {
	out := make([]BuildTarget, 0, len(inputs))
	for _, in := range inputs {
		t, err := Parse(in, currentCell, currentPackage)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
