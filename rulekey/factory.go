package rulekey

import (
	"fmt"
	"hash"
	"sort"

	"github.com/zeebo/blake3"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/cmap"
	"github.com/thought-machine/forge/label"
)

var log = logging.MustGetLogger("rulekey")

// DepKeyFunc resolves the Kind-flavored rule key of another rule,
// typically bound by the caller to Factory.Compute over the full action
// graph.
type DepKeyFunc func(target label.BuildTarget, kind Kind) (Key, error)

// ABIHashFunc returns the stable public-interface digest of a rule's
// output, used in place of its full rule key when folding a dependency
// into an InputBasedKey. A
// nil ABIHashFunc falls back to the dependency's own InputBasedKey,
// which is a conservative approximation documented as a simplification.
type ABIHashFunc func(target label.BuildTarget) ([]byte, error)

type cacheKey struct {
	Target label.BuildTarget
	Kind   Kind
}

// cachedEntry records not just the computed Key but which file paths
// (and their hash at computation time) contributed to it, so a recycled
// CacheScope can re-verify entries against the current
// FileHashProvider.
type cachedEntry struct {
	key    Key
	inputs map[string][]byte
}

// A Factory computes RuleKeys deterministically from Rules, memoizing by
// (rule identity, key kind) under concurrent access via cmap's
// single-shot GetOrCompute.
type Factory struct {
	provider      FileHashProvider
	schemaVersion string
	keySeed       string
	abiHash       ABIHashFunc

	cache *cmap.Map[cacheKey, cachedEntry]
}

// NewFactory constructs a Factory. schemaVersion should change whenever
// the key-computation algorithm itself changes, and keySeed is the
// project's configured key-seed; both are folded into every key so a
// schema or seed change invalidates everything at once.
func NewFactory(provider FileHashProvider, schemaVersion, keySeed string, abiHash ABIHashFunc) *Factory {
	return &Factory{
		provider:      provider,
		schemaVersion: schemaVersion,
		keySeed:       keySeed,
		abiHash:       abiHash,
		cache:         cmap.New[cacheKey, cachedEntry](cmap.DefaultShardCount, cacheKeyHasher),
	}
}

func cacheKeyHasher(k cacheKey) uint32 {
	return cmap.StringHasher(fmt.Sprintf("%s#%d", k.Target, k.Kind))
}

// Compute returns rule's RuleKey of the given kind, computing it (and
// memoizing the result) on first request. depKey resolves the keys of
// rule.BuildDeps; pass a closure bound to this same Factory's Compute
// method over the active action graph to get correct recursive
// memoization.
func (f *Factory) Compute(rule Rule, kind Kind, depKey DepKeyFunc) (Key, error) {
	entry, err := f.cache.GetOrCompute(cacheKey{rule.Target, kind}, func() (cachedEntry, error) {
		return f.compute(rule, kind, depKey)
	})
	return entry.key, err
}

func (f *Factory) compute(rule Rule, kind Kind, depKey DepKeyFunc) (cachedEntry, error) {
	h := blake3.New()
	inputs := map[string][]byte{}

	writeString(h, f.schemaVersion)
	writeString(h, f.keySeed)
	writeString(h, kind.String())
	writeString(h, rule.Target.String())

	for _, field := range rule.Fields {
		if !field.Scopes.includes(kind) {
			continue
		}
		if err := f.writeField(h, field, kind, inputs); err != nil {
			return cachedEntry{}, fmt.Errorf("rulekey: %s field %q: %w", rule.Target, field.Name, err)
		}
	}

	deps := append([]label.BuildTarget(nil), rule.BuildDeps...)
	label.Sort(deps)
	for _, dep := range deps {
		depKind := recursionKind(kind)
		if kind == InputBasedKey && f.abiHash != nil {
			digest, err := f.abiHash(dep)
			if err != nil {
				return cachedEntry{}, fmt.Errorf("rulekey: ABI hash for dep %s: %w", dep, err)
			}
			h.Write(digest)
			continue
		}
		k, err := depKey(dep, depKind)
		if err != nil {
			return cachedEntry{}, fmt.Errorf("rulekey: dep %s: %w", dep, err)
		}
		h.Write(k[:])
	}

	var out Key
	copy(out[:], h.Sum(nil)[:KeySize])
	return cachedEntry{key: out, inputs: inputs}, nil
}

// recursionKind picks which Kind of a dependency's rule key folds into
// the current computation when no ABIHashFunc is configured. DepFileKey
// narrowing is specific to a rule's own declared inputs,
// so deps still contribute their DefaultKey; InputBasedKey propagates
// transitively as an approximation of ABI stability.
func recursionKind(kind Kind) Kind {
	if kind == InputBasedKey {
		return InputBasedKey
	}
	return DefaultKey
}

func (f *Factory) writeField(h hash.Hash, field Field, kind Kind, inputs map[string][]byte) error {
	writeString(h, field.Name)
	switch v := field.Value.(type) {
	case string:
		writeString(h, v)
	case bool:
		if v {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case int64:
		writeInt64(h, v)
	case int:
		writeInt64(h, int64(v))
	case []string:
		values := append([]string(nil), v...)
		if field.Unordered {
			sort.Strings(values)
		}
		writeInt64(h, int64(len(values)))
		for _, s := range values {
			writeString(h, s)
		}
	case FileInput:
		return f.writeFileInput(h, string(v), kind, field.DepFileFilter, inputs)
	case []FileInput:
		paths := make([]string, 0, len(v))
		for _, p := range v {
			paths = append(paths, string(p))
		}
		if field.Unordered {
			sort.Strings(paths)
		}
		for _, p := range paths {
			if err := f.writeFileInput(h, p, kind, field.DepFileFilter, inputs); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported field value type %T", field.Value)
	}
	return nil
}

func (f *Factory) writeFileInput(h hash.Hash, path string, kind Kind, filter func(string) bool, inputs map[string][]byte) error {
	if kind == DepFileKey && filter != nil && !filter(path) {
		return nil
	}
	digest, err := f.provider.Hash(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	inputs[path] = digest
	h.Write(digest)
	return nil
}

func writeString(h hash.Hash, s string) {
	writeInt64(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeInt64(h hash.Hash, n int64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
	h.Write(buf[:])
}
