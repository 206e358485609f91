// Package parse implements the build-file evaluator and target
// resolver. Build files are evaluated with go.starlark.net: a
// *starlark.Thread carries a package-local target registry in
// thread-local state, with native rule constructors registered as
// starlark.Builtins.
package parse

import (
	"fmt"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/core"
)

var log = logging.MustGetLogger("parse")

func init() {
	// set() and global reassignment stay off (the Starlark defaults) and
	// recursion is never allowed, keeping evaluation total. The resolver
	// can't distinguish build files from extensions, so the build-file
	// ban on top-level defs is enforced separately in forbidTopLevelDefs.
	resolve.AllowSet = false
	resolve.AllowRecursion = false
}

// FileSystem is the minimal filesystem interface the evaluator needs,
// satisfied by the real OS filesystem in production and by an in-memory
// fake in tests. ListDir returns every regular file's path, relative to
// dir, recursively — glob patterns are matched against that relative path.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	ListDir(dir string) ([]string, error)
}

// An Evaluator evaluates build files and their extensions against a
// ruleRegistry of native rule constructors, caching each file's
// evaluation result (manifest and top-level namespace) per path.
type Evaluator struct {
	fs       FileSystem
	registry *core.Registry
	config   map[string]string // flat read_config() key -> value map
	implicit *ImplicitPackageConfig
	cell     string

	mu    sync.Mutex
	cache map[string]*fileState // keyed by normalized path
}

// fileState tracks one extension/build file's position in the
// UNLOADED -> PARSING -> PARSED -> EVALUATING -> EVALUATED state
// machine.
type fileState struct {
	state      loadState
	predecl    starlark.StringDict // the evaluated top-level namespace, once EVALUATED
	err        error
	manifest   *Manifest
	includes   []string
	configRead map[string]string
	globs      []core.RecordedGlob
	done       chan struct{}
}

type loadState int

const (
	unloaded loadState = iota
	parsing
	parsed
	evaluating
	evaluated
)

// NewEvaluator constructs an Evaluator scoped to one cell.
func NewEvaluator(cell string, fs FileSystem, registry *core.Registry, config map[string]string, implicit *ImplicitPackageConfig) *Evaluator {
	return &Evaluator{
		cell:     cell,
		fs:       fs,
		registry: registry,
		config:   config,
		implicit: implicit,
		cache:    make(map[string]*fileState),
	}
}

// Manifest is the evaluator's per-build-file output, a thin alias over
// core.Manifest to keep the parse package's public surface
// self-describing.
type Manifest = core.Manifest

// Evaluate evaluates the build file at path and returns its Manifest.
// Two evaluations of the same file with identical source, loads, config
// reads, and glob results produce byte-identical manifests after the
// canonical ordering core.Manifest's fields already impose.
func (e *Evaluator) Evaluate(path string) (*Manifest, error) {
	state, err := e.load(path, true, nil)
	if err != nil {
		return nil, err
	}
	return state.manifest, nil
}

// GetIncludes returns the ordered set of auxiliary files loaded while
// evaluating path.
func (e *Evaluator) GetIncludes(path string) ([]string, error) {
	state, err := e.load(path, true, nil)
	if err != nil {
		return nil, err
	}
	return state.includes, nil
}

// GlobResultStillValid recomputes every glob the previous evaluation of
// path recorded and reports whether any differs.
func (e *Evaluator) GlobResultStillValid(path string, recorded []core.RecordedGlob) (bool, error) {
	for _, g := range recorded {
		matched, err := Glob(e.fs, dirOf(path), g.Include, g.Exclude)
		if err != nil {
			return false, err
		}
		if !sameSet(matched, g.Matched) {
			return false, nil
		}
	}
	return true, nil
}

// load implements the per-path state machine; loading a path that is
// already on loadStack (re-entry while it is still being evaluated) is
// treated as a cycle.
// isBuildFile selects which primitive set + resolver flags apply:
// build files may not define top-level functions, extensions may.
func (e *Evaluator) load(path string, isBuildFile bool, loadStack []string) (*fileState, error) {
	norm := normalizePath(path)

	e.mu.Lock()
	for _, s := range loadStack {
		if s == norm {
			e.mu.Unlock()
			return nil, &core.ParseError{Kind: "Cycle", Location: path, Message: fmt.Sprintf("load cycle: %v -> %s", loadStack, norm)}
		}
	}
	if existing, ok := e.cache[norm]; ok {
		if existing.state == evaluating {
			e.mu.Unlock()
			return nil, &core.ParseError{Kind: "Cycle", Location: path, Message: "re-entrant evaluation (cycle) detected for " + norm}
		}
		done := existing.done
		e.mu.Unlock()
		if done != nil {
			<-done
		}
		return existing, existing.err
	}
	state := &fileState{state: parsing, done: make(chan struct{}), configRead: map[string]string{}}
	e.cache[norm] = state
	e.mu.Unlock()

	state.manifest, state.includes, state.globs, state.err = e.evaluateFile(norm, isBuildFile, append(loadStack, norm), state)
	state.state = evaluated
	close(state.done)
	return state, state.err
}

func normalizePath(path string) string {
	return path
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		seen[x]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
