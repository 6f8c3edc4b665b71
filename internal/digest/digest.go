package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ErrUnknownAlgorithm is returned when no hash is registered under the given name.
var ErrUnknownAlgorithm = errors.New("digest: unknown algorithm")

// Verifier computes hex digests of in-memory buffers.
type Verifier interface {
	Sum(data []byte, algorithm string) (string, error)
}

var algorithms = map[string]func() hash.Hash{
	"md5":        md5.New,
	"sha1":       sha1.New,
	"sha224":     sha256.New224,
	"sha256":     sha256.New,
	"sha384":     sha512.New384,
	"sha512":     sha512.New,
	"sha512/224": sha512.New512_224,
	"sha512/256": sha512.New512_256,
	"sha3224":    sha3.New224,
	"sha3256":    sha3.New256,
	"sha3384":    sha3.New384,
	"sha3512":    sha3.New512,
	"blake2b256": mustBlake(blake2b.New256),
	"blake2b512": mustBlake(blake2b.New512),
}

func mustBlake(fn func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := fn(nil)
		if err != nil {
			// unkeyed constructors never fail
			panic(err)
		}

		return h
	}
}

// normalize folds "SHA-256", "sha256" and "Sha-256" onto the same key.
func normalize(algorithm string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(algorithm)), "-", "")
}

// Supported reports whether algorithm names a known hash.
func Supported(algorithm string) bool {
	_, ok := algorithms[normalize(algorithm)]

	return ok
}

// Hasher is the default Verifier.
type Hasher struct{}

// Sum returns the lowercase hex digest of data under algorithm.
func (Hasher) Sum(data []byte, algorithm string) (string, error) {
	newHash, ok := algorithms[normalize(algorithm)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}

	h := newHash()
	h.Write(data)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests ignoring case.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
