// Package rulekey implements the rule-key factory: deterministic
// 160-bit fingerprints over a build rule's declared attributes, its
// input file contents, and the rule keys of its dependencies. Keys are
// truncated BLAKE3 digests.
package rulekey

import "encoding/hex"

// KeySize is the rule-key digest width in bytes.
const KeySize = 20

// A Key is a rule's content-addressed fingerprint.
type Key [KeySize]byte

// String renders the key as lowercase hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether k is the zero key (never a valid computed key,
// since the schema version and seed are always hashed in).
func (k Key) IsZero() bool {
	return k == Key{}
}

// Kind selects which flavor of key to compute.
type Kind int

const (
	// DefaultKey folds in the DefaultKeys of the rule's build-deps;
	// changes when any transitive dep changes.
	DefaultKey Kind = iota
	// InputBasedKey includes only rule-declared input files plus ABI
	// digests of dep outputs; stable across dep changes that don't
	// affect public interface.
	InputBasedKey
	// DepFileKey is recomputed after a build using only the subset of
	// declared inputs the rule actually consumed.
	DepFileKey
)

func (k Kind) String() string {
	switch k {
	case DefaultKey:
		return "default"
	case InputBasedKey:
		return "input-based"
	case DepFileKey:
		return "dep-file"
	default:
		return "unknown"
	}
}

// A FileHashProvider supplies the content hash of a path. It is
// consumed here but owned and invalidated outside this package, by the
// hashes package.
type FileHashProvider interface {
	Hash(path string) ([]byte, error)
}
