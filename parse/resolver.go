package parse

import (
	"path"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
)

// Resolver coerces a RawTargetNode's attributes against its rule's
// declared schema, resolves any select() lists against the active
// configuration, and produces a typed TargetNode.
type Resolver struct {
	registry       *core.Registry
	cells          *label.CellMap
	activeConfig   map[string]string
	boundaryChecks bool
}

// NewResolver constructs a Resolver.
func NewResolver(registry *core.Registry, cells *label.CellMap, activeConfig map[string]string, boundaryChecks bool) *Resolver {
	return &Resolver{registry: registry, cells: cells, activeConfig: activeConfig, boundaryChecks: boundaryChecks}
}

// Resolve coerces one RawTargetNode into a TargetNode. pkg is the owning
// Package, used for the package-boundary check on input file attributes.
func (r *Resolver) Resolve(raw *core.RawTargetNode, pkg *core.Package) (*core.TargetNode, error) {
	desc, ok := r.registry.Lookup(raw.RuleType)
	if !ok {
		return nil, &core.ParseError{Kind: "UnknownRuleType", Location: raw.Target.String(), Message: "unknown rule type " + raw.RuleType}
	}
	schema := desc.ConstructorArgSchema()

	resolvedAttrs := make(map[string]interface{}, len(raw.Attrs))
	for attrName, rawVal := range raw.Attrs {
		concrete, err := resolveSelectors(rawVal, r.activeConfig)
		if err != nil {
			return nil, &core.ConfigurationError{Target: raw.Target, Message: attrName + ": " + err.Error()}
		}
		coercer, hasSchema := schema[attrName]
		if !hasSchema {
			resolvedAttrs[attrName] = concrete
			continue
		}
		typed, err := coercer(raw.Target, attrName, concrete)
		if err != nil {
			return nil, err
		}
		resolvedAttrs[attrName] = typed
	}

	node := &core.TargetNode{
		Target:   raw.Target,
		RuleType: desc.Type(),
		Args:     resolvedAttrs,
	}

	if deps, ok := resolvedAttrs["deps"].([]label.BuildTarget); ok {
		node.DeclaredDeps = deps
	}
	if runtimeDeps, ok := resolvedAttrs["runtime_deps"].([]label.BuildTarget); ok {
		node.RuntimeDeps = runtimeDeps
	}
	if visibility, ok := resolvedAttrs["visibility"].([]label.Pattern); ok {
		node.Visibility = visibility
	}
	if inputs, ok := resolvedAttrs["srcs"].([]string); ok {
		node.Inputs = normalizeInputs(raw.Target.BasePath, inputs)
	}
	node.ExtraDeps = desc.ImplicitDeps(resolvedAttrs)

	if pkg != nil {
		for _, input := range node.Inputs {
			if err := pkg.CheckInputPath(raw.Target, input, r.boundaryChecks); err != nil {
				return nil, err
			}
		}
	}

	return node, nil
}

// normalizeInputs rewrites package-relative source paths to their
// cell-root-relative form, collapsing any ".." components so the
// package-boundary check sees the real path.
func normalizeInputs(basePath string, srcs []string) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = path.Join(basePath, s)
	}
	return out
}

// resolveSelectors walks a raw attribute value and resolves any
// core.SelectorList found at its top level against config. Nested
// selectors inside list/dict elements are not supported; select() may
// only appear as a whole attribute value, not buried inside a literal.
func resolveSelectors(raw interface{}, config map[string]string) (interface{}, error) {
	if sel, ok := raw.(core.SelectorList); ok {
		return sel.Resolve(config)
	}
	return raw, nil
}

// StringSliceCoercer returns a Coercer that expects a list of strings.
func StringSliceCoercer(target label.BuildTarget, attribute string, raw interface{}) (interface{}, error) {
	s, err := toStringSlice(raw)
	if err != nil {
		return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: raw, ExpectedType: "[]string"}
	}
	return s, nil
}

// LabelSliceCoercer returns a Coercer that parses a list of strings as
// build labels relative to the target's own package.
func LabelSliceCoercer(target label.BuildTarget, attribute string, raw interface{}) (interface{}, error) {
	strs, err := toStringSlice(raw)
	if err != nil {
		return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: raw, ExpectedType: "[]label"}
	}
	out := make([]label.BuildTarget, 0, len(strs))
	for _, s := range strs {
		l, err := label.Parse(s, target.Cell, target.BasePath)
		if err != nil {
			return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: s, ExpectedType: "label"}
		}
		out = append(out, l)
	}
	return out, nil
}

// VisibilitySliceCoercer parses a list of strings as visibility patterns.
func VisibilitySliceCoercer(target label.BuildTarget, attribute string, raw interface{}) (interface{}, error) {
	strs, err := toStringSlice(raw)
	if err != nil {
		return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: raw, ExpectedType: "[]pattern"}
	}
	out := make([]label.Pattern, 0, len(strs))
	for _, s := range strs {
		if s == "PUBLIC" {
			out = append(out, label.Pattern{Kind: label.Recursive})
			continue
		}
		p, err := label.ParsePattern(s, target.Cell, target.BasePath)
		if err != nil {
			return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: s, ExpectedType: "pattern"}
		}
		out = append(out, p)
	}
	return out, nil
}

// StringCoercer returns a Coercer that expects a single string.
func StringCoercer(target label.BuildTarget, attribute string, raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: raw, ExpectedType: "string"}
	}
	return s, nil
}

// BoolCoercer returns a Coercer that expects a bool.
func BoolCoercer(target label.BuildTarget, attribute string, raw interface{}) (interface{}, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, &core.CoerceError{Target: target, Attribute: attribute, Value: raw, ExpectedType: "bool"}
	}
	return b, nil
}
