package cache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/thought-machine/forge/rulekey"
)

// epoch is the fixed modification time stamped onto every file the dir
// backend writes, so two builds of identical content produce
// byte-identical tarballs.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DirBackend is an on-disk cache backend storing each rule key's
// outputs as a single gzipped tarball.
type DirBackend struct {
	root string
}

// NewDirBackend roots a DirBackend at dir, creating it if necessary.
func NewDirBackend(dir string) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirBackend{root: dir}, nil
}

func (b *DirBackend) Name() string { return "dir:" + b.root }

func (b *DirBackend) path(key rulekey.Key) string {
	return filepath.Join(b.root, key.String()+".tar.gz")
}

func (b *DirBackend) metaPath(key rulekey.Key) string {
	return filepath.Join(b.root, key.String()+".json")
}

func (b *DirBackend) Contains(ctx context.Context, key rulekey.Key) (Result, error) {
	if _, err := os.Stat(b.path(key)); err != nil {
		if os.IsNotExist(err) {
			return Miss, nil
		}
		return Error, err
	}
	return Hit, nil
}

func (b *DirBackend) Fetch(ctx context.Context, key rulekey.Key, outs []string, dir string) (Result, Metadata, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Miss, Metadata{}, nil
		}
		return Error, Metadata{}, &CacheError{Backend: b.Name(), Err: err}
	}
	defer f.Close()

	if err := extractTarGz(f, dir); err != nil {
		return Error, Metadata{}, &CacheError{Backend: b.Name(), Err: err}
	}
	meta, _ := b.readMeta(key)
	return Hit, meta, nil
}

func (b *DirBackend) Store(ctx context.Context, key rulekey.Key, outs []string, dir string, meta Metadata) error {
	tmp := b.path(key) + ".tmp"
	if err := writeTarGz(tmp, dir, outs); err != nil {
		os.Remove(tmp)
		return &CacheError{Backend: b.Name(), Err: err}
	}
	if err := os.Rename(tmp, b.path(key)); err != nil {
		return &CacheError{Backend: b.Name(), Err: err}
	}
	return b.writeMeta(key, meta)
}

func (b *DirBackend) writeMeta(key rulekey.Key, meta Metadata) error {
	f, err := os.Create(b.metaPath(key))
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(meta)
}

func (b *DirBackend) readMeta(key rulekey.Key) (Metadata, error) {
	f, err := os.Open(b.metaPath(key))
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	var meta Metadata
	err = json.NewDecoder(f).Decode(&meta)
	return meta, err
}

func writeTarGz(filename, srcDir string, outs []string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeTarGzTo(f, srcDir, outs)
}

func writeTarGzTo(w io.Writer, srcDir string, outs []string) error {
	gw := gzip.NewWriter(w)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, out := range outs {
		if err := filepath.Walk(filepath.Join(srcDir, out), func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			hdr.ModTime, hdr.AccessTime, hdr.ChangeTime = epoch, epoch, epoch
			hdr.Uid, hdr.Gid = 0, 0
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.Copy(tw, src)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(r io.Reader, destDir string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return err
			}
		}
	}
}
