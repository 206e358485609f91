package parse

import (
	"fmt"
	"sort"
	"strings"
)

// memFS is an in-memory FileSystem used by the parse package's tests so
// they exercise the evaluator without touching disk.
type memFS struct {
	files map[string]string
}

func newMemFS(files map[string]string) *memFS {
	return &memFS{files: files}
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	content, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return []byte(content), nil
}

func (m *memFS) ListDir(dir string) ([]string, error) {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	var out []string
	for path := range m.files {
		if strings.HasPrefix(path, prefix) {
			rel := strings.TrimPrefix(path, prefix)
			if !strings.Contains(rel, "/") {
				out = append(out, rel)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
