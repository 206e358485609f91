package assemble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
	"github.com/thought-machine/forge/parse"
)

type testRule struct{ name string }

func (r testRule) Type() core.RuleType { return core.RuleType{Name: r.name, Kind: core.BuildKind} }
func (r testRule) ConstructorArgSchema() map[string]core.Coercer {
	return map[string]core.Coercer{
		"srcs":       parse.StringSliceCoercer,
		"deps":       parse.LabelSliceCoercer,
		"visibility": parse.VisibilitySliceCoercer,
	}
}
func (r testRule) ImplicitDeps(map[string]interface{}) []label.BuildTarget { return nil }
func (r testRule) MetadataFor(label.BuildTarget, string) (interface{}, bool) {
	return nil, false
}

func newTestAssembler(files map[string]string) *Assembler {
	reg := core.NewRegistry()
	reg.Register(testRule{"library"})
	fs := newRecursiveMemFS(files)
	resolver := parse.NewResolver(reg, nil, map[string]string{}, true)
	newEvaluator := func(cell string) *parse.Evaluator {
		return parse.NewEvaluator(cell, fs, reg, map[string]string{}, nil)
	}
	return New(fs, nil, reg, []string{"BUILD"}, newEvaluator, resolver)
}

func TestAssembleBuildsGraphWithEdges(t *testing.T) {
	files := map[string]string{
		"BUILD": `library(name = "a", srcs = ["a.c"])
library(name = "b", srcs = ["b.c"], deps = [":a"])`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.SingleTarget, Name: "b"}}

	g, err := a.Assemble(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	b := label.New("", "", "b", nil, "")
	aTarget := label.New("", "", "a", nil, "")
	assert.Contains(t, g.Node(b).ParseDeps(), aTarget)
	assert.Contains(t, g.ReverseDeps(aTarget), b)
}

func TestAssembleDetectsCycle(t *testing.T) {
	files := map[string]string{
		"BUILD": `library(name = "a", deps = [":b"])
library(name = "b", deps = [":a"])`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.SingleTarget, Name: "a"}}

	_, err := a.Assemble(context.Background(), patterns)
	require.Error(t, err)
	var cycleErr *core.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestAssembleMissingDepIsAnError(t *testing.T) {
	files := map[string]string{
		"BUILD": `library(name = "a", deps = [":ghost"])`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.SingleTarget, Name: "a"}}

	_, err := a.Assemble(context.Background(), patterns)
	require.Error(t, err)
}

func TestAssemblePackagePatternIncludesEveryTarget(t *testing.T) {
	files := map[string]string{
		"spam/BUILD": `library(name = "a")
library(name = "b")`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.Package, BasePath: "spam"}}

	g, err := a.Assemble(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}

func TestAssembleRecursivePatternWalksSubpackages(t *testing.T) {
	files := map[string]string{
		"spam/BUILD":     `library(name = "a", deps = ["//spam/eggs:b"])`,
		"spam/eggs/BUILD": `library(name = "b")`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.Recursive, BasePath: "spam"}}

	g, err := a.Assemble(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}

func TestAssembleIsConcurrencySafeForDiamondDeps(t *testing.T) {
	files := map[string]string{
		"BUILD": `library(name = "base")
library(name = "left", deps = [":base"])
library(name = "right", deps = [":base"])
library(name = "top", deps = [":left", ":right"])`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.SingleTarget, Name: "top"}}

	g, err := a.Assemble(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
}

func TestAssembleEnforcesDeclaredVisibility(t *testing.T) {
	files := map[string]string{
		"lib/BUILD": `library(name = "internal", visibility = ["//lib/..."])`,
		"app/BUILD": `library(name = "main", deps = ["//lib:internal"])`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.SingleTarget, BasePath: "app", Name: "main"}}

	_, err := a.Assemble(context.Background(), patterns)
	require.Error(t, err)
	var visErr *core.VisibilityError
	require.ErrorAs(t, err, &visErr)
	assert.Equal(t, label.New("", "app", "main", nil, ""), visErr.From)
	assert.Equal(t, label.New("", "lib", "internal", nil, ""), visErr.To)
}

func TestAssembleAllowsVisibleAndPublicDeps(t *testing.T) {
	files := map[string]string{
		"lib/BUILD": `library(name = "shared", visibility = ["//app/..."])
library(name = "open", visibility = ["PUBLIC"])`,
		"app/BUILD": `library(name = "main", deps = ["//lib:shared", "//lib:open"])`,
	}
	a := newTestAssembler(files)
	patterns := []label.Pattern{{Kind: label.SingleTarget, BasePath: "app", Name: "main"}}

	g, err := a.Assemble(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}

type configRule struct{}

func (configRule) Type() core.RuleType {
	return core.RuleType{Name: "platform", Kind: core.ConfigurationKind}
}
func (configRule) ConstructorArgSchema() map[string]core.Coercer           { return nil }
func (configRule) ImplicitDeps(map[string]interface{}) []label.BuildTarget { return nil }
func (configRule) MetadataFor(label.BuildTarget, string) (interface{}, bool) {
	return nil, false
}

func TestAssembleRejectsConfigurationNodeAsDep(t *testing.T) {
	files := map[string]string{
		"BUILD": `platform(name = "linux")
library(name = "a", deps = [":linux"])`,
	}
	reg := core.NewRegistry()
	reg.Register(testRule{"library"})
	reg.Register(configRule{})
	fs := newRecursiveMemFS(files)
	resolver := parse.NewResolver(reg, nil, map[string]string{}, true)
	newEvaluator := func(cell string) *parse.Evaluator {
		return parse.NewEvaluator(cell, fs, reg, map[string]string{}, nil)
	}
	a := New(fs, nil, reg, []string{"BUILD"}, newEvaluator, resolver)

	_, err := a.Assemble(context.Background(), []label.Pattern{{Kind: label.SingleTarget, Name: "a"}})
	require.Error(t, err)
	var configErr *core.ConfigurationError
	require.ErrorAs(t, err, &configErr)

	// As a root, the same configuration node is fine.
	a2 := New(fs, nil, reg, []string{"BUILD"}, newEvaluator, resolver)
	_, err = a2.Assemble(context.Background(), []label.Pattern{{Kind: label.SingleTarget, Name: "linux"}})
	require.NoError(t, err)
}
