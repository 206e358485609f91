package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/label"
)

func node(basePath, name string, deps ...label.BuildTarget) *TargetNode {
	return &TargetNode{
		Target:       label.New("", basePath, name, nil, ""),
		RuleType:     RuleType{Name: "library", Kind: BuildKind},
		DeclaredDeps: deps,
	}
}

func TestFreezeBuildsGraphWithEdges(t *testing.T) {
	a := node("", "a")
	b := node("", "b", a.Target)
	builder := NewBuilder()
	builder.Add(a)
	builder.Add(b)

	graph, err := builder.Freeze([]label.BuildTarget{b.Target})
	require.NoError(t, err)
	assert.Equal(t, 2, graph.Len())
	assert.Equal(t, []label.BuildTarget{b.Target}, graph.ReverseDeps(a.Target))
}

func TestFreezeDetectsCycle(t *testing.T) {
	aLabel := label.New("", "", "a", nil, "")
	bLabel := label.New("", "", "b", nil, "")
	a := node("", "a", bLabel)
	b := node("", "b", aLabel)
	builder := NewBuilder()
	builder.Add(a)
	builder.Add(b)

	_, err := builder.Freeze([]label.BuildTarget{aLabel})
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Path, aLabel)
	assert.Contains(t, cycleErr.Path, bLabel)
}

func TestFreezeMissingDepIsAnError(t *testing.T) {
	missing := label.New("", "", "missing", nil, "")
	a := node("", "a", missing)
	builder := NewBuilder()
	builder.Add(a)

	_, err := builder.Freeze([]label.BuildTarget{a.Target})
	require.Error(t, err)
}

func TestAddIsIdempotent(t *testing.T) {
	a := node("", "a")
	builder := NewBuilder()
	builder.Add(a)
	builder.Add(a)
	graph, err := builder.Freeze([]label.BuildTarget{a.Target})
	require.NoError(t, err)
	assert.Equal(t, 1, graph.Len())
}
