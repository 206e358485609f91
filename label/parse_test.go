package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAbsolute(t *testing.T) {
	l, err := Parse("//spam/eggs:ham", "", "")
	assert.NoError(t, err)
	assert.Equal(t, New("", "spam/eggs", "ham", nil, ""), l)
}

func TestParseRelativeColon(t *testing.T) {
	l, err := Parse(":ham", "", "spam/eggs")
	assert.NoError(t, err)
	assert.Equal(t, New("", "spam/eggs", "ham", nil, ""), l)
}

func TestParseImplicitShortName(t *testing.T) {
	l, err := Parse("//spam/eggs", "", "")
	assert.NoError(t, err)
	assert.Equal(t, "eggs", l.Name)
}

func TestParseCell(t *testing.T) {
	l, err := Parse("@other//spam:ham", "", "")
	assert.NoError(t, err)
	assert.Equal(t, "other", l.Cell)
}

func TestParseFlavor(t *testing.T) {
	l, err := Parse("//spam:ham#linux,x86_64", "", "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"linux", "x86_64"}, l.FlavorList())
}

func TestParseRejectsMissingSlashPrefix(t *testing.T) {
	_, err := Parse("spam:ham", "", "")
	assert.Error(t, err)
}

func TestParseRejectsDotDot(t *testing.T) {
	_, err := Parse("//spam/../eggs:ham", "", "")
	assert.Error(t, err)
}

func TestParsePatternRecursive(t *testing.T) {
	p, err := ParsePattern("//spam/...", "", "")
	assert.NoError(t, err)
	assert.Equal(t, Recursive, p.Kind)
	assert.Equal(t, "spam", p.BasePath)
}

func TestParsePatternPackage(t *testing.T) {
	p, err := ParsePattern("//spam:all", "", "")
	assert.NoError(t, err)
	assert.Equal(t, Package, p.Kind)
}

func TestPatternMatchesRecursiveIncludesSubpackages(t *testing.T) {
	p, _ := ParsePattern("//spam/...", "", "")
	assert.True(t, p.Matches(New("", "spam", "x", nil, "")))
	assert.True(t, p.Matches(New("", "spam/eggs", "x", nil, "")))
	assert.False(t, p.Matches(New("", "other", "x", nil, "")))
	assert.False(t, p.Matches(New("", "spamalot", "x", nil, "")))
}

func TestPatternMatchesWholeGraph(t *testing.T) {
	p, _ := ParsePattern("//...", "", "")
	assert.True(t, p.Matches(New("", "anything/at/all", "x", nil, "")))
}
