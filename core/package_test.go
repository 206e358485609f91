package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/label"
)

func TestAddTargetRejectsDuplicateName(t *testing.T) {
	pkg := NewPackage("", "spam")
	n1 := &TargetNode{Target: label.New("", "spam", "eggs", nil, "")}
	n2 := &TargetNode{Target: label.New("", "spam", "eggs", nil, "")}
	require.NoError(t, pkg.AddTarget(n1))
	err := pkg.AddTarget(n2)
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "DuplicateTarget", parseErr.Kind)
}

func TestCheckInputPathWithinPackage(t *testing.T) {
	pkg := NewPackage("", "spam/eggs")
	target := label.New("", "spam/eggs", "ham", nil, "")
	assert.NoError(t, pkg.CheckInputPath(target, "spam/eggs/ham.go", true))
	assert.Error(t, pkg.CheckInputPath(target, "spam/other/ham.go", true))
}

func TestCheckInputPathSkippedWhenDisabled(t *testing.T) {
	pkg := NewPackage("", "spam/eggs")
	target := label.New("", "spam/eggs", "ham", nil, "")
	assert.NoError(t, pkg.CheckInputPath(target, "elsewhere/ham.go", false))
}

func TestTargetsSortedByName(t *testing.T) {
	pkg := NewPackage("", "spam")
	require.NoError(t, pkg.AddTarget(&TargetNode{Target: label.New("", "spam", "zeta", nil, "")}))
	require.NoError(t, pkg.AddTarget(&TargetNode{Target: label.New("", "spam", "alpha", nil, "")}))
	names := []string{}
	for _, n := range pkg.Targets() {
		names = append(names, n.Target.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}
