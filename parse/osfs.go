package parse

import (
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
)

// OSFileSystem is the production FileSystem backend, rooted at a
// workspace directory on local disk.
type OSFileSystem struct {
	Root string
}

// ReadFile reads path relative to the filesystem root.
func (f OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(f.Root, path))
}

// ListDir recursively lists every regular file under dir (relative to
// Root), returning paths relative to dir, using godirwalk for speed on
// large trees.
func (f OSFileSystem) ListDir(dir string) ([]string, error) {
	abs := filepath.Join(f.Root, dir)
	var out []string
	err := godirwalk.Walk(abs, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil || isDir {
				return nil
			}
			rel, err := filepath.Rel(abs, osPathname)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
