package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/zeebo/blake3"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/action"
	"github.com/thought-machine/forge/cache"
	"github.com/thought-machine/forge/cmap"
	"github.com/thought-machine/forge/label"
	"github.com/thought-machine/forge/rulekey"
)

var log = logging.MustGetLogger("engine")

// Interrupted reports that a rule was canceled by a command-level cancel
// signal rather than failing on its own.
type Interrupted struct {
	Target label.BuildTarget
}

func (e *Interrupted) Error() string {
	return fmt.Sprintf("%s: interrupted", e.Target)
}

// DepFailure reports that a rule was canceled because a build-dep of
// its subtree failed.
type DepFailure struct {
	Target label.BuildTarget
	Dep    label.BuildTarget
	Cause  error
}

func (e *DepFailure) Error() string {
	return fmt.Sprintf("%s: dependency %s failed: %s", e.Target, e.Dep, e.Cause)
}

func (e *DepFailure) Unwrap() error { return e.Cause }

// An Engine drives the rule state machine over an action graph, probing
// and populating an ArtifactCache and running build steps under a
// bounded worker pool. State transitions are explicit and observable on
// the event bus; no shared per-target state is mutated in place.
type Engine struct {
	builder *action.Builder
	keys    *rulekey.Factory
	cascade *cache.Cascade
	bus     *Bus
	outRoot string
	buildID string

	buildSem  chan struct{}
	keepGoing bool

	results *cmap.Map[label.BuildTarget, *ruleResult]
}

type ruleResult struct {
	State State
	Err   error
}

func buildTargetHasher(t label.BuildTarget) uint32 {
	return cmap.StringHasher(t.String())
}

// Config governs engine behavior.
type Config struct {
	// Concurrency bounds how many rules may occupy BUILD_STEPS at once.
	Concurrency int
	// KeepGoing, when set, lets independent root subtrees fail
	// independently; without it, the first root to fail cancels the
	// rest of the command.
	KeepGoing bool
	// OutRoot is the root of the persisted output tree.
	OutRoot string
}

// New constructs an Engine. builder lowers targets into BuildRules; keys
// computes rule keys (typically rulekey.CacheScope.Factory()); cascade
// is the artifact cache.
func New(builder *action.Builder, keys *rulekey.Factory, cascade *cache.Cascade, cfg Config) *Engine {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		builder:   builder,
		keys:      keys,
		cascade:   cascade,
		bus:       NewBus(),
		outRoot:   cfg.OutRoot,
		buildID:   uuid.NewString(),
		buildSem:  make(chan struct{}, concurrency),
		keepGoing: cfg.KeepGoing,
		results:   cmap.New[label.BuildTarget, *ruleResult](cmap.DefaultShardCount, buildTargetHasher),
	}
}

// Bus returns the engine's event stream.
func (e *Engine) Bus() *Bus { return e.bus }

// BuildID returns this build's correlation identifier; it is stamped
// into uploaded artifacts' metadata as the origin identity.
func (e *Engine) BuildID() string { return e.buildID }

// Build drives every root to completion (or failure/cancellation),
// returning the accumulated root failures. Under KeepGoing a combined
// error is returned only if every root failed or was canceled, and nil
// if at least one completed; callers inspect the per-root results for
// the full picture.
func (e *Engine) Build(ctx context.Context, roots []label.BuildTarget) (map[label.BuildTarget]*ruleResult, error) {
	// Without KeepGoing, a failed root cancels the other roots, which
	// stop at their next cancellation check.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	for _, root := range roots {
		wg.Add(1)
		go func(root label.BuildTarget) {
			defer wg.Done()
			if _, err := e.execute(ctx, root); err != nil && !e.keepGoing {
				cancel()
			}
		}(root)
	}
	wg.Wait()

	// Report every rule the build touched, not just the roots, so
	// callers can see why a root was canceled.
	out := make(map[label.BuildTarget]*ruleResult)
	for _, item := range e.results.Items() {
		out[item.Key] = item.Value
	}

	var errs *multierror.Error
	anyDone := false
	for _, root := range roots {
		res := out[root]
		if res == nil {
			continue
		}
		if res.State == Done {
			anyDone = true
		} else if res.Err != nil {
			errs = multierror.Append(errs, res.Err)
		}
	}
	if e.keepGoing && (anyDone || len(roots) == 0) {
		return out, nil
	}
	return out, errs.ErrorOrNil()
}

// execute runs one target's state machine exactly once, collapsing
// concurrent requesters onto the same execution.
func (e *Engine) execute(ctx context.Context, target label.BuildTarget) (*ruleResult, error) {
	return e.results.GetOrCompute(target, func() (*ruleResult, error) {
		res := e.run(ctx, target)
		return res, res.Err
	})
}

func (e *Engine) run(ctx context.Context, target label.BuildTarget) *ruleResult {
	e.publish(target, Pending, Started, nil)

	rule, err := e.builder.RequireRule(target)
	if err != nil {
		return e.terminal(target, Failed, err)
	}

	e.publish(target, RuleKeyCalc, Started, nil)
	key, err := e.ruleKey(ctx, rule, rulekey.DefaultKey)
	if err != nil {
		return e.terminal(target, Failed, err)
	}
	e.publish(target, RuleKeyCalc, Finished, nil)

	if ctx.Err() != nil {
		return e.terminal(target, Canceled, &Interrupted{Target: target})
	}

	// Probe the default key first, then the input-based key; a hit at
	// either layer skips the rest.
	inputKey, err := e.ruleKey(ctx, rule, rulekey.InputBasedKey)
	if err != nil {
		return e.terminal(target, Failed, err)
	}

	e.publish(target, CacheProbe, Started, nil)
	outDir := OutputDir(e.outRoot, target)
	result := e.fetchVerified(ctx, key, rule, outDir)
	if result != cache.Hit && inputKey != key {
		result = e.fetchVerified(ctx, inputKey, rule, outDir)
		if result == cache.Hit {
			// Re-home the artifact under the default key so the next
			// build hits at the first probe layer.
			meta := cache.Metadata{Origin: e.buildID}
			meta.ContentHash, _ = hashOutputs(outDir, rule.Outputs)
			if err := e.cascade.Store(ctx, key, rule.Outputs, outDir, meta); err != nil {
				log.Debugf("%s: failed to re-store under default key: %s", target, err)
			}
		}
	}
	e.publish(target, CacheProbe, Finished, nil)

	if result == cache.Hit {
		e.publish(target, Materialize, Started, nil)
		e.publish(target, Materialize, Finished, nil)
		return e.terminal(target, Done, nil)
	}

	e.publish(target, ScheduleDeps, Started, nil)
	depResults := e.scheduleDeps(ctx, rule.BuildDeps)
	e.publish(target, ScheduleDeps, Finished, nil)

	e.publish(target, WaitDeps, Started, nil)
	for _, dep := range rule.BuildDeps {
		dr := depResults[dep]
		if dr == nil || dr.State != Done {
			var cause error
			if dr != nil {
				cause = dr.Err
			}
			return e.terminal(target, Canceled, &DepFailure{Target: target, Dep: dep, Cause: cause})
		}
	}
	e.publish(target, WaitDeps, Finished, nil)

	if ctx.Err() != nil {
		return e.terminal(target, Canceled, &Interrupted{Target: target})
	}

	e.buildSem <- struct{}{}
	e.publish(target, BuildSteps, Started, nil)
	stepErr := e.runSteps(ctx, rule)
	e.publish(target, BuildSteps, Finished, stepErr)
	<-e.buildSem
	if stepErr != nil {
		return e.terminal(target, Failed, stepErr)
	}

	e.publish(target, Upload, Started, nil)
	meta := cache.Metadata{Origin: e.buildID}
	if digest, err := hashOutputs(outDir, rule.Outputs); err == nil {
		meta.ContentHash = digest
	}
	if err := e.cascade.Store(ctx, key, rule.Outputs, outDir, meta); err != nil {
		log.Warningf("%s: failed to upload to cache: %s", target, err)
	}
	if inputKey != key {
		if err := e.cascade.Store(ctx, inputKey, rule.Outputs, outDir, meta); err != nil {
			log.Warningf("%s: failed to upload input-based key to cache: %s", target, err)
		}
	}
	// The dep-file key can only exist now, after the steps have reported
	// which declared inputs they actually consumed.
	if rule.DepFile != nil {
		if depKey, err := e.depFileKey(ctx, rule); err != nil {
			log.Warningf("%s: failed to compute dep-file key: %s", target, err)
		} else if depKey != key {
			if err := e.cascade.Store(ctx, depKey, rule.Outputs, outDir, meta); err != nil {
				log.Warningf("%s: failed to upload dep-file key to cache: %s", target, err)
			}
		}
	}
	e.publish(target, Upload, Finished, nil)

	return e.terminal(target, Done, nil)
}

// fetchVerified probes the cascade for one key and verifies the
// materialized outputs against the artifact's recorded content hash. A
// mismatch means the cache returned something other than what was
// uploaded; it is treated as a miss so the rule builds locally.
func (e *Engine) fetchVerified(ctx context.Context, key rulekey.Key, rule *action.BuildRule, outDir string) cache.Result {
	result, meta, err := e.cascade.Fetch(ctx, key, rule.Outputs, outDir)
	if err != nil {
		log.Warningf("%s: cache probe failed, falling back to local build: %s", rule.Target, err)
		return cache.Miss
	}
	if result != cache.Hit {
		return result
	}
	if len(meta.ContentHash) > 0 {
		digest, err := hashOutputs(outDir, rule.Outputs)
		if err != nil || !hashEqual(digest, meta.ContentHash) {
			log.Warningf("%s: cache error: fetched artifact for %s does not match its recorded content hash, treating as a miss", rule.Target, key)
			return cache.Miss
		}
	}
	return cache.Hit
}

// hashOutputs digests a rule's materialized outputs (paths and contents)
// in a stable order, for cache-integrity metadata.
func hashOutputs(dir string, outs []string) ([]byte, error) {
	h := blake3.New()
	sorted := append([]string(nil), outs...)
	sort.Strings(sorted)
	for _, out := range sorted {
		err := filepath.Walk(filepath.Join(dir, out), func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			io.WriteString(h, rel)
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(h, f)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scheduleDeps launches (or joins) every build-dep's execution
// concurrently and waits for all of them, regardless of individual
// failures, so that independent deps' results are all observed before
// this rule decides whether it can proceed.
func (e *Engine) scheduleDeps(ctx context.Context, deps []label.BuildTarget) map[label.BuildTarget]*ruleResult {
	results := make(map[label.BuildTarget]*ruleResult, len(deps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dep := range deps {
		wg.Add(1)
		go func(dep label.BuildTarget) {
			defer wg.Done()
			res, _ := e.execute(ctx, dep)
			mu.Lock()
			results[dep] = res
			mu.Unlock()
		}(dep)
	}
	wg.Wait()
	return results
}

// runSteps executes a BuildRule's steps in order, stopping at the first
// failure.
func (e *Engine) runSteps(ctx context.Context, rule *action.BuildRule) error {
	steps, err := rule.Steps(ctx)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			return &Interrupted{Target: rule.Target}
		}
		if err := step.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ruleKey computes rule's key of the given kind, recursively folding in
// its build-deps' keys via the same memoized factory.
func (e *Engine) ruleKey(ctx context.Context, rule *action.BuildRule, kind rulekey.Kind) (rulekey.Key, error) {
	return e.keys.Compute(rule.AsRuleKeyRule(), kind, e.depKeyFunc(ctx))
}

// depFileKey computes rule's dep-file key using the used-input predicate
// the rule's last execution reported.
func (e *Engine) depFileKey(ctx context.Context, rule *action.BuildRule) (rulekey.Key, error) {
	pred, err := rule.DepFile(ctx)
	if err != nil {
		return rulekey.Key{}, err
	}
	return e.keys.Compute(rule.AsDepFileRule(pred), rulekey.DepFileKey, e.depKeyFunc(ctx))
}

func (e *Engine) depKeyFunc(ctx context.Context) rulekey.DepKeyFunc {
	return func(dep label.BuildTarget, depKind rulekey.Kind) (rulekey.Key, error) {
		depRule, err := e.builder.RequireRule(dep)
		if err != nil {
			return rulekey.Key{}, err
		}
		return e.ruleKey(ctx, depRule, depKind)
	}
}

func (e *Engine) terminal(target label.BuildTarget, state State, err error) *ruleResult {
	phase := Finished
	e.publish(target, state, phase, err)
	return &ruleResult{State: state, Err: err}
}

func (e *Engine) publish(target label.BuildTarget, state State, phase Phase, err error) {
	e.bus.Publish(Event{Target: target, State: state, Phase: phase, Err: err})
}
