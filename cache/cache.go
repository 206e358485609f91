// Package cache implements the artifact cache: a map from rule key to
// an output blob, backed by one or more stores composed into a layered
// cascade with promotion on hit. Retrieval is sequential across tiers;
// stores go to every tier concurrently.
package cache

import (
	"context"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/rulekey"
)

var log = logging.MustGetLogger("cache")

// Result is the outcome tag of a cache lookup.
type Result int

const (
	Miss Result = iota
	Hit
	Error
	Ignored
)

func (r Result) String() string {
	switch r {
	case Hit:
		return "HIT"
	case Miss:
		return "MISS"
	case Error:
		return "ERROR"
	default:
		return "IGNORED"
	}
}

// Metadata travels alongside a stored blob; it records who produced the
// artifact and a content hash used to verify integrity on fetch.
type Metadata struct {
	Origin      string
	ContentHash []byte
}

// A Backend is one layer of the cache cascade. Fetch copies the named
// outs for key from the backend into dir; Store copies them from dir
// into the backend. Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Fetch(ctx context.Context, key rulekey.Key, outs []string, dir string) (Result, Metadata, error)
	Store(ctx context.Context, key rulekey.Key, outs []string, dir string, meta Metadata) error
}

// A CacheError wraps a backend failure. Cache failures are never fatal;
// callers should treat one as a Miss and fall through to a local build
// rather than aborting the command.
type CacheError struct {
	Backend string
	Err     error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %s", e.Backend, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// A Cascade composes backends in priority order. Fetch tries each in
// turn and, on a hit, promotes the artifact into every higher-priority
// backend it missed in. Store writes to every backend concurrently.
type Cascade struct {
	backends []Backend
}

// NewCascade builds a Cascade from backends ordered highest-priority
// first. An empty Cascade is valid and always misses.
func NewCascade(backends ...Backend) *Cascade {
	return &Cascade{backends: backends}
}

// Fetch tries each backend in priority order, promoting a hit into the
// backends tried before it so subsequent fetches of the same key are
// served from the fastest layer.
func (c *Cascade) Fetch(ctx context.Context, key rulekey.Key, outs []string, dir string) (Result, Metadata, error) {
	for i, backend := range c.backends {
		result, meta, err := backend.Fetch(ctx, key, outs, dir)
		if err != nil {
			log.Warningf("cache fetch from %s failed: %s", backend.Name(), err)
			continue
		}
		if result == Hit {
			c.promote(ctx, key, outs, dir, meta, i)
			return Hit, meta, nil
		}
	}
	return Miss, Metadata{}, nil
}

// promote stores an artifact fetched from backends[foundAt] into every
// backend ranked ahead of it.
func (c *Cascade) promote(ctx context.Context, key rulekey.Key, outs []string, dir string, meta Metadata, foundAt int) {
	for _, backend := range c.backends[:foundAt] {
		if err := backend.Store(ctx, key, outs, dir, meta); err != nil {
			log.Debugf("failed to promote into %s: %s", backend.Name(), err)
		}
	}
}

// Store writes to every backend in the cascade concurrently, returning
// the first error encountered (if any); a store failure on one backend
// does not prevent the others from completing.
func (c *Cascade) Store(ctx context.Context, key rulekey.Key, outs []string, dir string, meta Metadata) error {
	errs := make(chan error, len(c.backends))
	for _, backend := range c.backends {
		go func(backend Backend) {
			errs <- backend.Store(ctx, key, outs, dir, meta)
		}(backend)
	}
	var first error
	for range c.backends {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Contains reports whether any backend already holds key, without
// fetching it. Backends that can't answer cheaply are skipped.
func (c *Cascade) Contains(ctx context.Context, key rulekey.Key, outs []string) Result {
	for _, backend := range c.backends {
		if prober, ok := backend.(interface {
			Contains(context.Context, rulekey.Key) (Result, error)
		}); ok {
			if result, err := prober.Contains(ctx, key); err == nil && result == Hit {
				return Hit
			}
		}
	}
	return Miss
}
