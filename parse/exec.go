package parse

import (
	"errors"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
)

// packageContext is the thread-local state every build-file evaluation
// carries: the package being built, its manifest-in-progress, and the
// evaluator that owns caches shared across files.
type packageContext struct {
	evaluator *Evaluator
	path      string
	isBuild   bool
	cell      string
	basePath  string
	manifest  *core.Manifest
	thread    *starlark.Thread
}

const threadKeyPkgCtx = "forge:pkgctx"

func getPkgCtx(thread *starlark.Thread) *packageContext {
	return thread.Local(threadKeyPkgCtx).(*packageContext)
}

// evaluateFile parses and executes one file, returning its manifest (for
// build files), includes, and recorded globs.
func (e *Evaluator) evaluateFile(path string, isBuildFile bool, loadStack []string, state *fileState) (*core.Manifest, []string, []core.RecordedGlob, error) {
	src, err := e.fs.ReadFile(path)
	if err != nil {
		return nil, nil, nil, &core.ParseError{Kind: "Read", Location: path, Message: err.Error()}
	}

	pc := &packageContext{
		evaluator: e,
		path:      path,
		isBuild:   isBuildFile,
		cell:      e.cell,
		basePath:  dirOf(path),
		manifest: &core.Manifest{
			Path:        path,
			Targets:     map[string]*core.RawTargetNode{},
			ConfigReads: map[string]string{},
		},
	}
	thread := &starlark.Thread{
		Name: path,
		Load: func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
			resolved, err := resolveLoadLabel(module)
			if err == nil {
				pc.manifest.Includes = append(pc.manifest.Includes, resolved)
			}
			return e.loadModule(module, loadStack)
		},
	}
	thread.SetLocal(threadKeyPkgCtx, pc)
	pc.thread = thread

	predeclared := e.predeclared(pc)

	if isBuildFile {
		if err := forbidTopLevelDefs(src, path); err != nil {
			return nil, nil, nil, err
		}
		if e.implicit != nil {
			for name, val := range e.implicit.SymbolsFor(pc.basePath, predeclared) {
				predeclared[name] = val
			}
		}
	}

	globals, err := starlark.ExecFile(thread, path, src, predeclared)
	if err != nil {
		return nil, nil, nil, translateStarlarkError(path, err)
	}
	state.predecl = globals

	pc.manifest.Includes = dedupStrings(pc.manifest.Includes)
	return pc.manifest, pc.manifest.Includes, pc.manifest.Globs, nil
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// loadModule resolves a load("@cell//path:file.ext", sym, …) target,
// evaluating it as an extension file (top-level defs allowed) and
// caching the result so that reading the same extension multiple times
// is idempotent.
func (e *Evaluator) loadModule(module string, loadStack []string) (starlark.StringDict, error) {
	path, err := resolveLoadLabel(module)
	if err != nil {
		return nil, err
	}
	state, err := e.load(path, false, loadStack)
	if err != nil {
		return nil, err
	}
	return state.predecl, nil
}

// resolveLoadLabel turns a load() label like "@cell//path:file.bzl" or
// "//path:file.bzl" into a filesystem path. Loads target static path
// strings, so cycles can only arise dynamically, which `load` guards
// against by rejecting a path already on the current load stack.
func resolveLoadLabel(module string) (string, error) {
	l, err := label.Parse(module, "", "")
	if err != nil {
		return "", &core.ParseError{Kind: "MissingLoad", Location: module, Message: err.Error()}
	}
	if l.BasePath == "" {
		return l.Name, nil
	}
	return l.BasePath + "/" + l.Name, nil
}

// forbidTopLevelDefs enforces the build-file restriction that top-level
// function definitions are forbidden outright (only extensions may
// define functions). Native rule constructors are kept out of
// extensions separately, by predeclared only injecting them for build
// files. We parse once with go.starlark.net's
// syntax package purely to walk top-level statements; the real execution
// happens separately via ExecFile.
func forbidTopLevelDefs(src []byte, path string) error {
	f, err := syntax.Parse(path, src, 0)
	if err != nil {
		return &core.ParseError{Kind: "Syntax", Location: path, Message: err.Error()}
	}
	for _, stmt := range f.Stmts {
		if _, ok := stmt.(*syntax.DefStmt); ok {
			return &core.ParseError{
				Kind:     "Forbidden",
				Location: path,
				Message:  "top-level function definitions are not allowed in build files (move it to an extension)",
			}
		}
	}
	return nil
}

func translateStarlarkError(path string, err error) error {
	// A ParseError raised by one of our own builtins keeps its Kind.
	var parseErr *core.ParseError
	if errors.As(err, &parseErr) {
		return parseErr
	}
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return &core.ParseError{Kind: "Eval", Location: path, Message: evalErr.Backtrace()}
	}
	if syntaxErr, ok := err.(syntax.Error); ok {
		return &core.ParseError{Kind: "Syntax", Location: syntaxErr.Pos.String(), Message: syntaxErr.Msg}
	}
	return &core.ParseError{Kind: "Eval", Location: path, Message: err.Error()}
}

// splitLabelPath is a small helper used by builtins that need the
// package-relative form of a label string (e.g. ":foo" inside srcs).
func splitLabelPath(s string) (pkg, name string, ok bool) {
	if !strings.HasPrefix(s, ":") && !strings.HasPrefix(s, "//") {
		return "", "", false
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
