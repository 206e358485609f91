package core

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustConstraint(t *testing.T, s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	require.NoError(t, err)
	return c
}

func mustVersion(t *testing.T, s string) *semver.Version {
	v, err := semver.NewVersion(s)
	require.NoError(t, err)
	return v
}

func TestGreatestSatisfyingPicksHighestMatchingVersion(t *testing.T) {
	resolver := GreatestSatisfying{Candidates: map[string][]*semver.Version{
		"lib": {mustVersion(t, "1.0.0"), mustVersion(t, "1.2.0"), mustVersion(t, "2.0.0")},
	}}
	result, err := resolver.Resolve(map[string][]*semver.Constraints{
		"lib": {mustConstraint(t, "<2.0.0")},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", result["lib"].String())
}

func TestGreatestSatisfyingErrorsWhenUnsatisfiable(t *testing.T) {
	resolver := GreatestSatisfying{Candidates: map[string][]*semver.Version{
		"lib": {mustVersion(t, "1.0.0")},
	}}
	_, err := resolver.Resolve(map[string][]*semver.Constraints{
		"lib": {mustConstraint(t, ">=2.0.0")},
	})
	assert.Error(t, err)
}
