package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
)

func TestResolveCoercesAttributes(t *testing.T) {
	reg := core.NewRegistry()
	reg.Register(testRule{"library"})
	resolver := NewResolver(reg, nil, map[string]string{}, true)

	raw := &core.RawTargetNode{
		Target:   label.New("", "spam", "eggs", nil, ""),
		RuleType: "library",
		Attrs: map[string]interface{}{
			"name": "eggs",
			"srcs": []interface{}{"eggs.c"},
			"deps": []interface{}{":ham"},
		},
	}
	pkg := core.NewPackage("", "spam")
	node, err := resolver.Resolve(raw, pkg)
	require.NoError(t, err)
	assert.Equal(t, []string{"eggs.c"}, node.Args["srcs"])
	assert.Equal(t, []string{"spam/eggs.c"}, node.Inputs, "inputs are normalized to the cell root")
	assert.Equal(t, []label.BuildTarget{label.New("", "spam", "ham", nil, "")}, node.DeclaredDeps)
}

func TestResolveUnknownRuleTypeErrors(t *testing.T) {
	reg := core.NewRegistry()
	resolver := NewResolver(reg, nil, map[string]string{}, true)
	raw := &core.RawTargetNode{Target: label.New("", "spam", "eggs", nil, ""), RuleType: "mystery"}
	_, err := resolver.Resolve(raw, nil)
	assert.Error(t, err)
}

func TestResolveSelectPicksConfigBranch(t *testing.T) {
	reg := core.NewRegistry()
	reg.Register(testRule{"library"})
	resolver := NewResolver(reg, nil, map[string]string{"label": "//config:linux"}, true)

	raw := &core.RawTargetNode{
		Target:   label.New("", "spam", "eggs", nil, ""),
		RuleType: "library",
		Attrs: map[string]interface{}{
			"name": "eggs",
			"srcs": core.SelectorList{Branches: []core.SelectorBranch{
				{Constraints: core.ConstraintSet{"label": "//config:linux"}, Value: []interface{}{"linux.c"}},
				{IsDefault: true, Value: []interface{}{"default.c"}},
			}},
		},
	}
	node, err := resolver.Resolve(raw, core.NewPackage("", "spam"))
	require.NoError(t, err)
	assert.Equal(t, []string{"linux.c"}, node.Args["srcs"])
}

func TestResolveRejectsPackageBoundaryViolation(t *testing.T) {
	reg := core.NewRegistry()
	reg.Register(testRule{"library"})
	resolver := NewResolver(reg, nil, map[string]string{}, true)
	raw := &core.RawTargetNode{
		Target:   label.New("", "spam", "eggs", nil, ""),
		RuleType: "library",
		Attrs: map[string]interface{}{
			"name": "eggs",
			"srcs": []interface{}{"../other/eggs.c"},
		},
	}
	pkg := core.NewPackage("", "spam")
	_, err := resolver.Resolve(raw, pkg)
	require.Error(t, err)
	var boundaryErr *core.PackageBoundaryError
	require.ErrorAs(t, err, &boundaryErr)
}

func TestVisibilityPublicShortcut(t *testing.T) {
	target := label.New("", "spam", "eggs", nil, "")
	raw, err := VisibilitySliceCoercer(target, "visibility", []interface{}{"PUBLIC"})
	require.NoError(t, err)
	patterns := raw.([]label.Pattern)
	require.Len(t, patterns, 1)
	assert.True(t, patterns[0].Matches(label.New("", "anywhere", "x", nil, "")))
}
