package parse

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
)

// predeclared builds the set of names injected into a build/extension
// file's global scope before evaluation: native rule constructors (one
// per registered RuleType) plus the fixed primitive set: glob,
// package_name, repository_name, read_config, implicit_package_symbol,
// rule_exists, struct, provider. Collection-introspection primitives
// (len, list, dict literals, etc.) are Starlark built-ins already and
// are left alone; native *rule* constructors are forbidden at extension
// top level, enforced by forbidTopLevelDefs plus the isBuildFile gate
// on predeclared's caller.
func (e *Evaluator) predeclared(pc *packageContext) starlark.StringDict {
	d := starlark.StringDict{
		"glob":                     starlark.NewBuiltin("glob", globBuiltin),
		"package_name":             starlark.NewBuiltin("package_name", packageNameBuiltin),
		"repository_name":          starlark.NewBuiltin("repository_name", repositoryNameBuiltin),
		"read_config":              starlark.NewBuiltin("read_config", readConfigBuiltin),
		"implicit_package_symbol":  starlark.NewBuiltin("implicit_package_symbol", implicitPackageSymbolBuiltin),
		"rule_exists":              starlark.NewBuiltin("rule_exists", ruleExistsBuiltin),
		"struct":                   starlark.NewBuiltin("struct", structBuiltin),
		"provider":                 starlark.NewBuiltin("provider", providerBuiltin),
		"select":                   starlark.NewBuiltin("select", selectBuiltin),
	}
	if pc.isBuild && e.registry != nil {
		for _, name := range e.registryNames() {
			d[name] = e.ruleConstructor(name)
		}
	}
	return d
}

func (e *Evaluator) registryNames() []string {
	names := e.registry.Names()
	sort.Strings(names)
	return names
}

// ruleConstructor returns the starlark.Builtin for one native rule type.
// Calling it from a build file records a core.RawTargetNode in the
// package context's manifest; it never evaluates the rule itself (that is
// the target resolver's job).
func (e *Evaluator) ruleConstructor(ruleType string) *starlark.Builtin {
	return starlark.NewBuiltin(ruleType, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: only keyword arguments are accepted", ruleType)
		}
		pc := getPkgCtx(thread)
		attrs := make(map[string]interface{}, len(kwargs))
		var name string
		for _, kv := range kwargs {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("%s: non-string keyword argument", ruleType)
			}
			val, err := toGo(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: attribute %q: %w", ruleType, key, err)
			}
			attrs[key] = val
			if key == "name" {
				if s, ok := val.(string); ok {
					name = s
				}
			}
		}
		if name == "" {
			return nil, fmt.Errorf("%s: missing required \"name\" attribute", ruleType)
		}
		target := labelFor(pc, name)
		node := &core.RawTargetNode{Target: target, RuleType: ruleType, Attrs: attrs}
		if err := registerTarget(pc, node); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}

func registerTarget(pc *packageContext, node *core.RawTargetNode) error {
	if _, exists := pc.manifest.Targets[node.Target.Name]; exists {
		return &core.ParseError{
			Kind:     "DuplicateTarget",
			Location: pc.path,
			Message:  fmt.Sprintf("target %q declared more than once", node.Target.Name),
		}
	}
	pc.manifest.Targets[node.Target.Name] = node
	return nil
}

func globBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	pc := getPkgCtx(thread)
	var include *starlark.List
	var exclude *starlark.List
	if err := starlark.UnpackArgs("glob", args, kwargs, "include", &include, "exclude?", &exclude); err != nil {
		return nil, err
	}
	includePatterns, err := stringListOf(include)
	if err != nil {
		return nil, err
	}
	excludePatterns, err := stringListOf(exclude)
	if err != nil {
		return nil, err
	}
	matched, err := Glob(pc.evaluator.fs, pc.basePath, includePatterns, excludePatterns)
	if err != nil {
		return nil, err
	}
	pc.manifest.Globs = append(pc.manifest.Globs, core.RecordedGlob{Include: includePatterns, Exclude: excludePatterns, Matched: matched})
	out := make([]starlark.Value, len(matched))
	for i, m := range matched {
		out[i] = starlark.String(m)
	}
	return starlark.NewList(out), nil
}

func stringListOf(l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	out := make([]string, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		s, ok := starlark.AsString(l.Index(i))
		if !ok {
			return nil, fmt.Errorf("expected a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func packageNameBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(getPkgCtx(thread).basePath), nil
}

func repositoryNameBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(getPkgCtx(thread).cell), nil
}

func readConfigBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	pc := getPkgCtx(thread)
	var key string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs("read_config", args, kwargs, "key", &key, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := pc.evaluator.config[key]; ok {
		pc.manifest.ConfigReads[key] = v
		return starlark.String(v), nil
	}
	pc.manifest.ConfigReads[key] = ""
	return def, nil
}

func implicitPackageSymbolBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	pc := getPkgCtx(thread)
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs("implicit_package_symbol", args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if pc.evaluator.implicit == nil {
		return def, nil
	}
	if v, ok := pc.evaluator.implicit.Symbol(pc.basePath, name); ok {
		return v, nil
	}
	if def == starlark.None {
		return nil, &core.ParseError{Kind: "UndefinedImplicitSymbol", Location: pc.path, Message: "no implicit package symbol " + name}
	}
	return def, nil
}

func ruleExistsBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	pc := getPkgCtx(thread)
	var name string
	if err := starlark.UnpackArgs("rule_exists", args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	_, exists := pc.manifest.Targets[name]
	return starlark.Bool(exists), nil
}

func structBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("struct: only keyword arguments are accepted")
	}
	fields := make(map[string]interface{}, len(kwargs))
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		val, err := toGo(kv[1])
		if err != nil {
			return nil, err
		}
		fields[key] = val
	}
	return &structValue{fields: fields}, nil
}

// providerBuiltin returns a factory function: calling provider() yields a
// constructor that itself behaves like struct() when invoked with
// kwargs, mirroring Starlark's typical provider() shape closely enough
// for the core's opaque-attribute purposes.
func providerBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.NewBuiltin("provider_instance", structBuiltin), nil
}

// selectBuiltin implements select({constraint_label: value, ...}), the
// one piece of build-file grammar that produces a SelectorList rather
// than a concrete value. The
// "//conditions:default" key marks the declared default branch.
func selectBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dict *starlark.Dict
	if err := starlark.UnpackArgs("select", args, kwargs, "values", &dict); err != nil {
		return nil, err
	}
	branches := make([]core.SelectorBranch, 0, dict.Len())
	for _, item := range dict.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("select: keys must be strings (constraint labels)")
		}
		val, err := toGo(item[1])
		if err != nil {
			return nil, err
		}
		if key == "//conditions:default" {
			branches = append(branches, core.SelectorBranch{IsDefault: true, Value: val})
			continue
		}
		branches = append(branches, core.SelectorBranch{Constraints: core.ConstraintSet{"label": key}, Value: val})
	}
	return &selectValue{list: core.SelectorList{Branches: branches}}, nil
}

func labelFor(pc *packageContext, name string) label.BuildTarget {
	return label.New(pc.cell, pc.basePath, name, nil, "")
}
