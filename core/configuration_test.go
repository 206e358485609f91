package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfiguration(t *testing.T) {
	c := DefaultConfiguration()
	assert.Equal(t, []string{"BUILD"}, c.Parse.BuildFileName)
	assert.True(t, c.Parse.PackageBoundaryCheck)
	assert.Equal(t, "PATHS_AND_CONTENTS", c.Build.FileHashMode)
}

func TestReadConfigFilesMergesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "a")
	f2 := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(f1, []byte("[build]\nnumthreads = 2\n"), 0644))
	require.NoError(t, os.WriteFile(f2, []byte("[build]\nkeepgoing = true\n"), 0644))

	c, err := ReadConfigFiles([]string{f1, f2})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Build.NumThreads)
	assert.True(t, c.Build.KeepGoing)
}

func TestReadConfigFilesMissingFileIsNotAnError(t *testing.T) {
	c, err := ReadConfigFiles([]string{filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestApplyOverrides(t *testing.T) {
	c := DefaultConfiguration()
	err := c.ApplyOverrides(map[string]string{
		"build.numthreads":    "7",
		"build.keepgoing":     "true",
		"cache.dir":           "/tmp/forge-cache",
		"parse.buildfilename": "BUILD,BUILD.forge",
		"build.hashfunction":  "blake3",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, c.Build.NumThreads)
	assert.True(t, c.Build.KeepGoing)
	assert.Equal(t, "/tmp/forge-cache", c.Cache.Dir)
	assert.Equal(t, []string{"BUILD", "BUILD.forge"}, c.Parse.BuildFileName)
	assert.Equal(t, "blake3", c.Build.HashFunction)
}

func TestApplyOverridesRejectsUnknownKeys(t *testing.T) {
	c := DefaultConfiguration()
	assert.Error(t, c.ApplyOverrides(map[string]string{"nosuchsection.key": "x"}))
	assert.Error(t, c.ApplyOverrides(map[string]string{"build.nosuchkey": "x"}))
	assert.Error(t, c.ApplyOverrides(map[string]string{"malformed": "x"}))
	assert.Error(t, c.ApplyOverrides(map[string]string{"build.numthreads": "not-a-number"}))
}
