package cache

import (
	"bytes"
	"context"
	"sync"

	"github.com/thought-machine/forge/rulekey"
)

// MemoryBackend is a process-local in-memory cache layer, useful as the
// fastest tier of a Cascade and in tests. It stores a tar+gzip blob per
// key, reusing the DirBackend's archive format.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[rulekey.Key][]byte
	metas map[rulekey.Key]Metadata
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: map[rulekey.Key][]byte{}, metas: map[rulekey.Key]Metadata{}}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Contains(ctx context.Context, key rulekey.Key) (Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.blobs[key]; ok {
		return Hit, nil
	}
	return Miss, nil
}

func (b *MemoryBackend) Fetch(ctx context.Context, key rulekey.Key, outs []string, dir string) (Result, Metadata, error) {
	b.mu.RLock()
	blob, ok := b.blobs[key]
	meta := b.metas[key]
	b.mu.RUnlock()
	if !ok {
		return Miss, Metadata{}, nil
	}
	if err := extractTarGz(bytes.NewReader(blob), dir); err != nil {
		return Error, Metadata{}, &CacheError{Backend: b.Name(), Err: err}
	}
	return Hit, meta, nil
}

func (b *MemoryBackend) Store(ctx context.Context, key rulekey.Key, outs []string, dir string, meta Metadata) error {
	blob, err := tarGzToBuffer(dir, outs)
	if err != nil {
		return &CacheError{Backend: b.Name(), Err: err}
	}
	b.mu.Lock()
	b.blobs[key] = blob
	b.metas[key] = meta
	b.mu.Unlock()
	return nil
}
