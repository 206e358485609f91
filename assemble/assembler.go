// Package assemble implements the target graph assembler: concurrent
// discovery of a TargetGraph from a set of root target patterns, using
// single-shot-per-package memoization so that a diamond-shaped dependency
// is only ever parsed and resolved once no matter how many dependents
// reach it concurrently.
package assemble

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/cmap"
	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
	"github.com/thought-machine/forge/parse"
)

var log = logging.MustGetLogger("assemble")

// packageKey identifies one build file's worth of declared targets.
type packageKey struct {
	Cell     string
	BasePath string
}

// An Assembler drives the concurrent traversal: starting from root
// target patterns, it discovers build files,
// evaluates and resolves them into Packages, and recurses into every
// parse-time dependency, collapsing concurrent requests for the same
// package or target to a single computation.
type Assembler struct {
	fs             parse.FileSystem
	cells          *label.CellMap
	registry       *core.Registry
	buildFileNames []string

	newEvaluator func(cell string) *parse.Evaluator
	resolver     *parse.Resolver

	packages *cmap.Map[packageKey, *core.Package]
	builder  *core.Builder
}

// New constructs an Assembler. newEvaluator lets the caller supply one
// Evaluator per cell (each cell may have its own implicit-package-config
// and read_config() values), so it is a factory rather than a single
// shared instance.
func New(fs parse.FileSystem, cells *label.CellMap, registry *core.Registry, buildFileNames []string, newEvaluator func(cell string) *parse.Evaluator, resolver *parse.Resolver) *Assembler {
	return &Assembler{
		fs:             fs,
		cells:          cells,
		registry:       registry,
		buildFileNames: buildFileNames,
		newEvaluator:   newEvaluator,
		resolver:       resolver,
		packages:       cmap.New[packageKey, *core.Package](cmap.DefaultShardCount, packageKeyHasher),
		builder:        core.NewBuilder(),
	}
}

func packageKeyHasher(k packageKey) uint32 {
	return cmap.StringHasher(k.Cell + "//" + k.BasePath)
}

// Assemble expands patterns to concrete root targets, then concurrently
// visits every target and its transitive parse-time deps, and finally
// freezes the result into an immutable TargetGraph. Parse, coerce and
// cycle errors fail the whole command; no partial graph is returned.
func (a *Assembler) Assemble(ctx context.Context, patterns []label.Pattern) (*core.TargetGraph, error) {
	roots, err := a.expand(patterns)
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := root
		g.Go(func() error { return a.visit(ctx, root) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return a.builder.Freeze(roots)
}

// visit fetches root's TargetNode (triggering package evaluation if
// needed) and fans out into its parse-time deps.
// core.Builder.Add is idempotent, so two goroutines racing to add the
// same node collapse harmlessly; the real single-shot guarantee lives in
// loadPackage, which is what actually does the (expensive) parse work.
func (a *Assembler) visit(ctx context.Context, target label.BuildTarget) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// A target already in the builder has been discovered (or is mid
	// discovery by another chain, which will descend into its deps
	// itself). Stopping here keeps the traversal finite on a dep cycle;
	// the back-edge itself is reported by Freeze's post-order DFS.
	if a.builder.Has(target) {
		return nil
	}
	node, err := a.nodeFor(target)
	if err != nil {
		return err
	}
	a.builder.Add(node)

	deps := node.AllDeps()
	g, ctx := errgroup.WithContext(ctx)
	for _, dep := range deps {
		dep := dep
		g.Go(func() error {
			if err := a.visit(ctx, dep); err != nil {
				return err
			}
			// Visibility and the no-configuration-deps rule are both
			// enforced here, at assembly time: the dep's node is
			// guaranteed resolved once its visit returns.
			depNode, err := a.nodeFor(dep)
			if err != nil {
				return err
			}
			if depNode.RuleType.Kind == core.ConfigurationKind {
				return &core.ConfigurationError{
					Target:  target,
					Message: fmt.Sprintf("configuration node %s may only appear at a graph root, not as a dependency", dep),
				}
			}
			return depNode.CheckVisibility(target)
		})
	}
	return g.Wait()
}

// nodeFor resolves target's owning package (memoized) and returns its
// TargetNode.
func (a *Assembler) nodeFor(target label.BuildTarget) (*core.TargetNode, error) {
	pkg, err := a.loadPackage(target.Cell, target.BasePath)
	if err != nil {
		return nil, err
	}
	node, ok := pkg.Target(target.Name)
	if !ok {
		return nil, &core.ParseError{
			Kind:     "MissingDep",
			Location: target.String(),
			Message:  fmt.Sprintf("no target named %q in package %s//%s", target.Name, target.Cell, target.BasePath),
		}
	}
	return node, nil
}

// loadPackage evaluates and resolves the build file owning (cell,
// basePath) exactly once, memoized by cmap.GetOrCompute: concurrent
// requesters for the same package collapse into a single parse+resolve
// pass.
func (a *Assembler) loadPackage(cell, basePath string) (*core.Package, error) {
	return a.packages.GetOrCompute(packageKey{Cell: cell, BasePath: basePath}, func() (*core.Package, error) {
		buildFile, err := a.locateBuildFile(basePath)
		if err != nil {
			return nil, err
		}
		evaluator := a.newEvaluator(cell)
		manifest, err := evaluator.Evaluate(buildFile)
		if err != nil {
			return nil, err
		}

		pkg := core.NewPackage(cell, basePath)
		for _, raw := range manifest.Targets {
			node, err := a.resolver.Resolve(raw, pkg)
			if err != nil {
				return nil, err
			}
			if err := pkg.AddTarget(node); err != nil {
				return nil, err
			}
		}
		return pkg, nil
	})
}

// locateBuildFile finds the first configured build-file name present
// directly inside basePath.
func (a *Assembler) locateBuildFile(basePath string) (string, error) {
	entries, err := a.fs.ListDir(basePath)
	if err != nil {
		return "", &core.ParseError{Kind: "MissingPackage", Location: basePath, Message: err.Error()}
	}
	candidates := make(map[string]bool, len(a.buildFileNames))
	for _, n := range a.buildFileNames {
		candidates[n] = true
	}
	for _, e := range entries {
		if !hasSlash(e) && candidates[e] {
			if basePath == "" {
				return e, nil
			}
			return basePath + "/" + e, nil
		}
	}
	return "", &core.ParseError{Kind: "MissingPackage", Location: basePath, Message: "no build file found in " + basePath}
}

// Expand exposes expand for callers (typically a command-line front end)
// that need the concrete root targets a command's patterns resolved to,
// separately from assembling their full dependency graph.
func (a *Assembler) Expand(patterns []label.Pattern) ([]label.BuildTarget, error) {
	return a.expand(patterns)
}

// expand turns target patterns into concrete root BuildTargets, loading
// whatever packages are needed to enumerate Package/Recursive patterns.
func (a *Assembler) expand(patterns []label.Pattern) ([]label.BuildTarget, error) {
	var roots []label.BuildTarget
	for _, p := range patterns {
		switch p.Kind {
		case label.SingleTarget:
			roots = append(roots, label.New(p.Cell, p.BasePath, p.Name, nil, ""))
		case label.Package:
			pkg, err := a.loadPackage(p.Cell, p.BasePath)
			if err != nil {
				return nil, err
			}
			for _, n := range pkg.Targets() {
				roots = append(roots, n.Target)
			}
		case label.Recursive:
			targets, err := a.expandRecursive(p.Cell, p.BasePath)
			if err != nil {
				return nil, err
			}
			roots = append(roots, targets...)
		}
	}
	return roots, nil
}

// expandRecursive lists every build file under basePath (the whole repo
// when basePath is empty) and loads each as a package, collecting all of
// its declared targets.
func (a *Assembler) expandRecursive(cell, basePath string) ([]label.BuildTarget, error) {
	entries, err := a.fs.ListDir(basePath)
	if err != nil {
		return nil, &core.ParseError{Kind: "MissingPackage", Location: basePath, Message: err.Error()}
	}
	candidates := make(map[string]bool, len(a.buildFileNames))
	for _, n := range a.buildFileNames {
		candidates[n] = true
	}
	packageDirs := map[string]bool{}
	for _, e := range entries {
		dir, base := splitDir(e)
		if candidates[base] {
			packageDirs[dir] = true
		}
	}
	var roots []label.BuildTarget
	for dir := range packageDirs {
		full := dir
		if basePath != "" {
			if dir == "" {
				full = basePath
			} else {
				full = basePath + "/" + dir
			}
		}
		pkg, err := a.loadPackage(cell, full)
		if err != nil {
			return nil, err
		}
		for _, n := range pkg.Targets() {
			roots = append(roots, n.Target)
		}
	}
	return roots, nil
}

// splitDir splits a ListDir-relative path into its directory component
// and base name.
func splitDir(path string) (dir, base string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}

func hasSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}
