package action

import (
	"fmt"
	"sync"

	"github.com/thought-machine/forge/cmap"
	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/label"
)

// A SourcePathResolver maps a logical source path (as declared in a
// TargetNode's Inputs) to a concrete filesystem path.
type SourcePathResolver interface {
	Resolve(logical string) (string, error)
}

// RuleLowering is the optional capability a core.RuleDescription offers
// when it also knows how to lower a resolved TargetNode into a
// BuildRule. It is kept
// separate from core.RuleDescription rather than folded into it so that
// the parse package's coercion-only rule descriptions (used by tests and
// by any consumer that only needs to validate build files) are not
// forced to implement action-graph lowering too.
type RuleLowering interface {
	CreateBuildRule(node *core.TargetNode, ctx *Context) (*BuildRule, error)
}

// A Context is handed to a rule description's CreateBuildRule, giving
// it reentrant access back into the builder (a rule's construction may
// recursively require its deps' rules) and to the active
// SourcePathResolver.
type Context struct {
	builder *Builder
}

// RequireRule resolves target's BuildRule, constructing it if this is
// the first request (possibly recursively, from within another rule's
// own construction).
func (c *Context) RequireRule(target label.BuildTarget) (*BuildRule, error) {
	return c.builder.RequireRule(target)
}

// SourcePaths returns the builder's SourcePathResolver.
func (c *Context) SourcePaths() SourcePathResolver {
	return c.builder.sourcePaths
}

// A Builder is an ActionGraphBuilder: it lowers TargetNodes from an
// immutable TargetGraph into BuildRules, interning at most one BuildRule
// per BuildTarget for its lifetime. Concurrent RequireRule calls for
// the same target collapse to a single construction via cmap.Map's
// single-shot GetOrCompute.
type Builder struct {
	graph       *core.TargetGraph
	registry    *core.Registry
	sourcePaths SourcePathResolver

	rules *cmap.Map[label.BuildTarget, *BuildRule]

	indexMu    sync.Mutex
	extraIndex map[label.BuildTarget]*BuildRule
}

// NewBuilder constructs an ActionGraphBuilder over a frozen TargetGraph.
func NewBuilder(graph *core.TargetGraph, registry *core.Registry, sourcePaths SourcePathResolver) *Builder {
	return &Builder{
		graph:       graph,
		registry:    registry,
		sourcePaths: sourcePaths,
		rules:       cmap.New[label.BuildTarget, *BuildRule](cmap.DefaultShardCount, buildTargetHasher),
		extraIndex:  make(map[label.BuildTarget]*BuildRule),
	}
}

func buildTargetHasher(t label.BuildTarget) uint32 {
	return cmap.StringHasher(t.String())
}

// RequireRule returns target's BuildRule, lowering its TargetNode on
// first request. At most one BuildRule is ever constructed per
// BuildTarget within this Builder's lifetime.
func (b *Builder) RequireRule(target label.BuildTarget) (*BuildRule, error) {
	return b.rules.GetOrCompute(target, func() (*BuildRule, error) {
		b.indexMu.Lock()
		rule, indexed := b.extraIndex[target]
		b.indexMu.Unlock()
		if indexed {
			return rule, nil
		}
		node := b.graph.Node(target)
		if node == nil {
			return nil, fmt.Errorf("action: %s is not in the target graph", target)
		}
		desc, ok := b.registry.Lookup(node.RuleType.Name)
		if !ok {
			return nil, fmt.Errorf("action: unknown rule type %q for %s", node.RuleType.Name, target)
		}
		lowering, ok := desc.(RuleLowering)
		if !ok {
			return nil, fmt.Errorf("action: rule type %q does not support action-graph lowering", node.RuleType.Name)
		}
		return lowering.CreateBuildRule(node, &Context{builder: b})
	})
}

// GetRuleOptional returns target's BuildRule if it has already been
// constructed, without triggering construction.
func (b *Builder) GetRuleOptional(target label.BuildTarget) (*BuildRule, bool) {
	return b.rules.Get(target)
}

// AddToIndex registers an extra index entry for a flavored variant of a
// rule that a constructor produced as a side effect. A later
// RequireRule for rule.Target returns this instance
// without invoking CreateBuildRule again.
func (b *Builder) AddToIndex(rule *BuildRule) {
	b.indexMu.Lock()
	b.extraIndex[rule.Target] = rule
	b.indexMu.Unlock()
}

// SourcePaths returns the builder's SourcePathResolver.
func (b *Builder) SourcePaths() SourcePathResolver {
	return b.sourcePaths
}
