package rulekey

// A CacheScope binds a Factory's memoization cache to one build,
// identified by a (config-seed, action-graph-identity) composite
// string. The cache may be recycled into the next build when that
// identity is unchanged.
type CacheScope struct {
	seed    string
	factory *Factory
}

// NewCacheScope binds factory to seed for the current build.
func NewCacheScope(seed string, factory *Factory) *CacheScope {
	return &CacheScope{seed: seed, factory: factory}
}

// Factory returns the scope's current Factory.
func (s *CacheScope) Factory() *Factory {
	return s.factory
}

// Recycle attempts to reuse this scope's cache for the next build
// identified by newSeed. If the seed changed, the action graph or
// configuration is different enough that no cache entry can be trusted,
// and a fresh, empty-cache Factory is returned. If the seed is
// unchanged, every cached entry is re-verified against the current
// FileHashProvider — entries whose recorded input hashes still match are
// carried forward, any mismatch is discarded.
func (s *CacheScope) Recycle(newSeed string) *Factory {
	fresh := NewFactory(s.factory.provider, s.factory.schemaVersion, s.factory.keySeed, s.factory.abiHash)
	if newSeed != s.seed {
		log.Infof("rule-key cache scope seed changed (%q -> %q); discarding cache", s.seed, newSeed)
		s.seed = newSeed
		s.factory = fresh
		return fresh
	}

	carried, discarded := 0, 0
	for _, item := range s.factory.cache.Items() {
		if s.stillValid(item.Value) {
			fresh.cache.GetOrCompute(item.Key, func() (cachedEntry, error) { return item.Value, nil })
			carried++
		} else {
			discarded++
		}
	}
	log.Debugf("recycled rule-key cache: %d entries carried forward, %d discarded", carried, discarded)
	s.factory = fresh
	return fresh
}

func (s *CacheScope) stillValid(entry cachedEntry) bool {
	for path, recorded := range entry.inputs {
		current, err := s.factory.provider.Hash(path)
		if err != nil || !bytesEqual(current, recorded) {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
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
