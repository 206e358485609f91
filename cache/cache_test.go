package cache

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/forge/rulekey"
)

func parseKeyFromPath(t *testing.T, urlPath string) rulekey.Key {
	t.Helper()
	b, err := hex.DecodeString(strings.TrimPrefix(urlPath, "/"))
	require.NoError(t, err)
	var key rulekey.Key
	copy(key[:], b)
	return key
}

func mustReadAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func writeOutput(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func testKey(b byte) rulekey.Key {
	var k rulekey.Key
	k[0] = b
	return k
}

func TestDirBackendRoundTrips(t *testing.T) {
	backend, err := NewDirBackend(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	writeOutput(t, src, "out.txt", "hello")
	key := testKey(1)

	require.NoError(t, backend.Store(context.Background(), key, []string{"out.txt"}, src, Metadata{Origin: "local"}))

	dst := t.TempDir()
	result, meta, err := backend.Fetch(context.Background(), key, []string{"out.txt"}, dst)
	require.NoError(t, err)
	assert.Equal(t, Hit, result)
	assert.Equal(t, "local", meta.Origin)
	content, err := os.ReadFile(filepath.Join(dst, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestDirBackendMissReturnsMiss(t *testing.T) {
	backend, err := NewDirBackend(t.TempDir())
	require.NoError(t, err)
	result, _, err := backend.Fetch(context.Background(), testKey(9), nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Miss, result)
}

func TestMemoryBackendRoundTrips(t *testing.T) {
	backend := NewMemoryBackend()
	src := t.TempDir()
	writeOutput(t, src, "out.txt", "world")
	key := testKey(2)

	require.NoError(t, backend.Store(context.Background(), key, []string{"out.txt"}, src, Metadata{}))
	dst := t.TempDir()
	result, _, err := backend.Fetch(context.Background(), key, []string{"out.txt"}, dst)
	require.NoError(t, err)
	assert.Equal(t, Hit, result)
}

func TestCascadePromotesHitsIntoFasterLayers(t *testing.T) {
	mem := NewMemoryBackend()
	dirBackend, err := NewDirBackend(t.TempDir())
	require.NoError(t, err)
	cascade := NewCascade(mem, dirBackend)

	src := t.TempDir()
	writeOutput(t, src, "out.txt", "cached")
	key := testKey(3)
	require.NoError(t, dirBackend.Store(context.Background(), key, []string{"out.txt"}, src, Metadata{}))

	result, _, err := cascade.Fetch(context.Background(), key, []string{"out.txt"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Hit, result)

	memResult, err := mem.Contains(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, Hit, memResult, "hit from the slower backend must be promoted into the faster one")
}

func TestCascadeMissesWhenNoBackendHasKey(t *testing.T) {
	cascade := NewCascade(NewMemoryBackend())
	result, _, err := cascade.Fetch(context.Background(), testKey(4), nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Miss, result)
}

func TestHTTPBackendRoundTrips(t *testing.T) {
	mem := NewMemoryBackend()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := parseKeyFromPath(t, r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			blob := mustReadAll(t, r.Body)
			mem.mu.Lock()
			mem.blobs[key] = blob
			mem.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			mem.mu.RLock()
			blob, ok := mem.blobs[key]
			mem.mu.RUnlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(blob)
		}
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, true, server.Client())
	src := t.TempDir()
	writeOutput(t, src, "out.txt", "remote")
	key := testKey(5)

	require.NoError(t, backend.Store(context.Background(), key, []string{"out.txt"}, src, Metadata{}))
	dst := t.TempDir()
	result, _, err := backend.Fetch(context.Background(), key, []string{"out.txt"}, dst)
	require.NoError(t, err)
	assert.Equal(t, Hit, result)
	content, err := os.ReadFile(filepath.Join(dst, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote", string(content))
}

func TestHTTPBackendMissReturnsMiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	backend := NewHTTPBackend(server.URL, false, server.Client())
	result, _, err := backend.Fetch(context.Background(), testKey(6), nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Miss, result)
}
