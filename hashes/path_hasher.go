// Package hashes implements the file-hash provider the rule-key
// factory depends on: a memoizing map from path to content digest, with
// a pluggable hash algorithm and fsnotify-driven invalidation so
// longer-lived commands notice edits mid-build.
package hashes

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/rulekey"
)

var log = logging.MustGetLogger("hashes")

// Mode selects whether Hash reflects file contents or only the path
// string (the file is not opened or checked for existence), matching
// core.Configuration.Build.FileHashMode.
type Mode int

const (
	PathsAndContents Mode = iota
	PathsOnly
)

// NewHashFunc constructs the hash.Hash implementation named by the
// project's configured HashFunction.
func NewHashFunc(name string) (func() hash.Hash, error) {
	switch strings.ToLower(name) {
	case "", "xxhash":
		return func() hash.Hash { return xxhash.New() }, nil
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("hashes: unknown hash function %q", name)
	}
}

// A PathHasher computes and memoizes content hashes of filesystem paths,
// satisfying rulekey.FileHashProvider. It is safe for concurrent use.
type PathHasher struct {
	root    string
	mode    Mode
	newHash func() hash.Hash

	mu   sync.RWMutex
	memo map[string][]byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ rulekey.FileHashProvider = (*PathHasher)(nil)

// NewPathHasher constructs a PathHasher rooted at root. If watch is
// true, a background fsnotify watcher invalidates memoized entries as
// their files change; the caller must call Close to release it.
func NewPathHasher(root string, mode Mode, hashFunc func() hash.Hash, watch bool) (*PathHasher, error) {
	h := &PathHasher{
		root:    root,
		mode:    mode,
		newHash: hashFunc,
		memo:    map[string][]byte{},
	}
	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("hashes: starting filesystem watcher: %w", err)
		}
		h.watcher = w
		h.done = make(chan struct{})
		go h.watchLoop()
	}
	return h, nil
}

// Hash returns path's content digest, computing and memoizing it on
// first request. In PathsOnly mode the digest reflects only the path
// string, never file contents.
func (h *PathHasher) Hash(path string) ([]byte, error) {
	rel := h.ensureRelative(path)

	h.mu.RLock()
	cached, present := h.memo[rel]
	h.mu.RUnlock()
	if present {
		return cached, nil
	}

	digest, err := h.compute(rel)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.memo[rel] = digest
	h.mu.Unlock()
	if h.watcher != nil {
		if err := h.watcher.Add(h.absolute(rel)); err != nil {
			log.Debugf("failed to watch %s: %s", rel, err)
		}
	}
	return digest, nil
}

// Invalidate discards path's memoized hash so the next Hash call
// recomputes it.
func (h *PathHasher) Invalidate(path string) {
	rel := h.ensureRelative(path)
	h.mu.Lock()
	delete(h.memo, rel)
	h.mu.Unlock()
}

// Close stops the background filesystem watcher, if one was started.
func (h *PathHasher) Close() error {
	if h.watcher == nil {
		return nil
	}
	close(h.done)
	return h.watcher.Close()
}

func (h *PathHasher) watchLoop() {
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				h.Invalidate(event.Name)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			log.Warningf("file watcher error: %s", err)
		}
	}
}

func (h *PathHasher) compute(rel string) ([]byte, error) {
	hasher := h.newHash()
	if h.mode == PathsOnly {
		hasher.Write([]byte(rel))
		return hasher.Sum(nil), nil
	}
	file, err := os.Open(h.absolute(rel))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}

func (h *PathHasher) ensureRelative(path string) string {
	if h.root != "" && strings.HasPrefix(path, h.root) {
		return strings.TrimLeft(strings.TrimPrefix(path, h.root), "/")
	}
	return path
}

func (h *PathHasher) absolute(rel string) string {
	if h.root == "" {
		return rel
	}
	return h.root + "/" + rel
}
