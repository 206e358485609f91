package action

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
)

// libraryRule is a test RuleDescription + RuleLowering implementation.
type libraryRule struct {
	calls *int32
}

func (r libraryRule) Type() core.RuleType {
	return core.RuleType{Name: "library", Kind: core.BuildKind}
}
func (r libraryRule) ConstructorArgSchema() map[string]core.Coercer { return nil }
func (r libraryRule) ImplicitDeps(map[string]interface{}) []label.BuildTarget { return nil }
func (r libraryRule) MetadataFor(label.BuildTarget, string) (interface{}, bool) {
	return nil, false
}
func (r libraryRule) CreateBuildRule(node *core.TargetNode, ctx *Context) (*BuildRule, error) {
	if r.calls != nil {
		atomic.AddInt32(r.calls, 1)
	}
	var deps []*BuildRule
	for _, d := range node.DeclaredDeps {
		dep, err := ctx.RequireRule(d)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return &BuildRule{
		Target:    node.Target,
		BuildDeps: node.DeclaredDeps,
		Outputs:   []string{node.Target.Name + ".out"},
		Steps: func(ctx context.Context) ([]Step, error) {
			return nil, nil
		},
	}, nil
}

func graphWith(nodes ...*core.TargetNode) *core.TargetGraph {
	b := core.NewBuilder()
	var roots []label.BuildTarget
	for _, n := range nodes {
		b.Add(n)
		roots = append(roots, n.Target)
	}
	g, err := b.Freeze(roots)
	if err != nil {
		panic(err)
	}
	return g
}

func node(name string, deps ...label.BuildTarget) *core.TargetNode {
	return &core.TargetNode{
		Target:       label.New("", "", name, nil, ""),
		RuleType:     core.RuleType{Name: "library", Kind: core.BuildKind},
		DeclaredDeps: deps,
	}
}

func TestRequireRuleInternsASingleInstance(t *testing.T) {
	a := label.New("", "", "a", nil, "")
	g := graphWith(node("a"))
	reg := core.NewRegistry()
	reg.Register(libraryRule{})
	builder := NewBuilder(g, reg, nil)

	r1, err := builder.RequireRule(a)
	require.NoError(t, err)
	r2, err := builder.RequireRule(a)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}

func TestRequireRuleIsReentrant(t *testing.T) {
	a := label.New("", "", "a", nil, "")
	b := label.New("", "", "b", nil, "")
	g := graphWith(node("a"), node("b", a))
	reg := core.NewRegistry()
	reg.Register(libraryRule{})
	builder := NewBuilder(g, reg, nil)

	rule, err := builder.RequireRule(b)
	require.NoError(t, err)
	require.Len(t, rule.BuildDeps, 1)
	assert.Equal(t, a, rule.BuildDeps[0])
	_, ok := builder.GetRuleOptional(a)
	assert.True(t, ok, "requiring b's rule should have recursively constructed a's")
}

func TestRequireRuleCollapsesConcurrentCallers(t *testing.T) {
	a := label.New("", "", "a", nil, "")
	g := graphWith(node("a"))
	var calls int32
	reg := core.NewRegistry()
	reg.Register(libraryRule{calls: &calls})
	builder := NewBuilder(g, reg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := builder.RequireRule(a)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls)
}

func TestGetRuleOptionalReportsAbsent(t *testing.T) {
	a := label.New("", "", "a", nil, "")
	g := graphWith(node("a"))
	reg := core.NewRegistry()
	reg.Register(libraryRule{})
	builder := NewBuilder(g, reg, nil)

	_, ok := builder.GetRuleOptional(a)
	assert.False(t, ok)
}

func TestAddToIndexPreemptsConstruction(t *testing.T) {
	a := label.New("", "", "a", nil, "")
	g := graphWith(node("a"))
	var calls int32
	reg := core.NewRegistry()
	reg.Register(libraryRule{calls: &calls})
	builder := NewBuilder(g, reg, nil)

	preset := &BuildRule{Target: a, Outputs: []string{"preset.out"}}
	builder.AddToIndex(preset)

	rule, err := builder.RequireRule(a)
	require.NoError(t, err)
	assert.Same(t, preset, rule)
	assert.EqualValues(t, 0, calls)
}

func TestUnknownRuleTypeErrors(t *testing.T) {
	a := label.New("", "", "a", nil, "")
	g := graphWith(node("a"))
	reg := core.NewRegistry()
	builder := NewBuilder(g, reg, nil)

	_, err := builder.RequireRule(a)
	assert.Error(t, err)
}
