package cmap

import "github.com/cespare/xxhash/v2"

// StringHasher hashes a string key for use as a Map hasher, via xxhash
// (the same fast non-cryptographic hash the rule-key factory uses for
// file-content digests — see rulekey.FileHashProvider).
func StringHasher(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}
