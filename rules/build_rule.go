// Package rules provides the generic, language-agnostic build_rule rule
// type: a shell command over declared sources producing declared
// outputs. Language-specific rule sets register their own descriptions
// alongside it.
package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/thought-machine/forge/action"
	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/engine"
	"github.com/thought-machine/forge/label"
	"github.com/thought-machine/forge/parse"
	"github.com/thought-machine/forge/process"
	"github.com/thought-machine/forge/rulekey"
)

// BuildRuleType names the one native rule constructor this package
// registers; the build-file evaluator predeclares one starlark builtin
// per registered core.RuleType.
const BuildRuleType = "build_rule"

// Description implements core.RuleDescription and action.RuleLowering
// for build_rule. A build_rule target runs Cmd once with srcs and deps'
// outputs available on disk, in a shell, writing its declared outs.
type Description struct {
	// OutRoot is the root of the persisted output tree, threaded
	// through so the shell command can resolve $OUT/$OUTS.
	OutRoot string
	// Executor runs each rule's command under process-group
	// soft-kill/hard-kill semantics.
	Executor *process.Executor
	// Bash is the shell binary used to run Cmd (process.BashCommand).
	Bash string
	// SourcePaths resolves a target's declared srcs to filesystem paths.
	SourcePaths action.SourcePathResolver
}

func (d *Description) Type() core.RuleType {
	return core.RuleType{Name: BuildRuleType, Kind: core.BuildKind}
}

func (d *Description) ConstructorArgSchema() map[string]core.Coercer {
	// name is handled by the evaluator itself; every attribute below is
	// optional except cmd and outs, checked in CreateBuildRule since
	// Coercers only validate types, not presence.
	return map[string]core.Coercer{
		"cmd":          parse.StringCoercer,
		"shell":        parse.BoolCoercer,
		"srcs":         parse.StringSliceCoercer,
		"outs":         parse.StringSliceCoercer,
		"deps":         parse.LabelSliceCoercer,
		"runtime_deps": parse.LabelSliceCoercer,
		"visibility":   parse.VisibilitySliceCoercer,
		"depfile":      parse.StringCoercer,
	}
}

func (d *Description) ImplicitDeps(map[string]interface{}) []label.BuildTarget { return nil }

func (d *Description) MetadataFor(label.BuildTarget, string) (interface{}, bool) {
	return nil, false
}

// CreateBuildRule lowers a build_rule node: srcs become content-hashed
// rulekey.FileInput fields, deps are required (recursively lowering
// their own rules), and the
// Steps closure runs Cmd (in a shell unless shell=False) with
// SRCS/OUT/OUTS exported.
func (d *Description) CreateBuildRule(n *core.TargetNode, ctx *action.Context) (*action.BuildRule, error) {
	cmd, _ := n.Args["cmd"].(string)
	if cmd == "" {
		return nil, fmt.Errorf("build_rule %s: \"cmd\" is required", n.Target)
	}
	outs, _ := n.Args["outs"].([]string)
	if len(outs) == 0 {
		return nil, fmt.Errorf("build_rule %s: \"outs\" must list at least one output", n.Target)
	}
	// shell=False runs cmd as a plain argv with no shell in between;
	// $SRCS-style expansion then isn't available, only the environment.
	useShell := true
	if v, ok := n.Args["shell"].(bool); ok {
		useShell = v
	}
	if !useShell {
		if _, err := shlex.Split(cmd); err != nil {
			return nil, fmt.Errorf("build_rule %s: tokenizing \"cmd\": %w", n.Target, err)
		}
	}

	// depfile, when set, names a file the command writes under $OUT
	// listing the $SRCS entries it actually consumed, one per line; the
	// engine narrows the rule's dep-file key to those inputs.
	depfile, _ := n.Args["depfile"].(string)

	srcs := n.Inputs
	srcPaths := make([]string, 0, len(srcs))
	fields := []rulekey.Field{
		{Name: "cmd", Value: cmd},
		{Name: "shell", Value: useShell},
		{Name: "outs", Value: append([]string(nil), outs...), Unordered: true},
		{Name: "depfile", Value: depfile},
	}
	for _, src := range srcs {
		resolved := src
		if d.SourcePaths != nil {
			r, err := d.SourcePaths.Resolve(src)
			if err != nil {
				return nil, fmt.Errorf("build_rule %s: resolving src %q: %w", n.Target, src, err)
			}
			resolved = r
		}
		srcPaths = append(srcPaths, resolved)
		fields = append(fields, rulekey.Field{Name: "src:" + src, Value: rulekey.FileInput(resolved)})
	}

	for _, dep := range n.DeclaredDeps {
		if _, err := ctx.RequireRule(dep); err != nil {
			return nil, err
		}
	}

	target := n.Target
	outRoot, executor, bash := d.OutRoot, d.Executor, d.Bash
	if bash == "" {
		bash = "sh"
	}

	rule := &action.BuildRule{
		Target:    target,
		BuildDeps: n.DeclaredDeps,
		Outputs:   append([]string(nil), outs...),
		Fields:    fields,
		Steps: func(ctx context.Context) ([]action.Step, error) {
			return []action.Step{{Name: "cmd", Run: func(ctx context.Context) error {
				outDir := engine.OutputDir(outRoot, target)
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return err
				}
				outPaths := make([]string, len(outs))
				for i, out := range outs {
					outPaths[i] = filepath.Join(outDir, out)
				}
				env := append(os.Environ(),
					"SRCS="+strings.Join(srcPaths, " "),
					"OUTS="+strings.Join(outPaths, " "),
					"OUT="+outDir,
				)
				var argv []string
				if useShell {
					argv = process.BashCommand(bash, cmd, true)
				} else {
					var err error
					if argv, err = shlex.Split(cmd); err != nil {
						return err
					}
				}
				_, err := executor.Run(ctx, outDir, env, 0, 0, argv)
				return err
			}}}, nil
		},
	}
	if depfile != "" {
		rule.DepFile = func(ctx context.Context) (action.DepFilePredicate, error) {
			data, err := os.ReadFile(filepath.Join(engine.OutputDir(outRoot, target), depfile))
			if err != nil {
				return nil, fmt.Errorf("build_rule %s: reading depfile %q: %w", target, depfile, err)
			}
			used := make(map[string]bool)
			for _, line := range strings.Split(string(data), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					used[line] = true
				}
			}
			return func(path string) bool { return used[path] }, nil
		}
	}
	return rule, nil
}
