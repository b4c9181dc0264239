// Package digest provides the hash algorithms a search can target. Every
// Hasher returns lowercase hexadecimal of a fixed width and is safe for
// concurrent use.
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
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/md4"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// DefaultAlgorithm matches the checksum most transfer manifests carry.
const DefaultAlgorithm = "md5"

var (
	// ErrUnknownAlgorithm is returned by Get for names that were never registered.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

	// ErrInvalidDigest is returned when a digest string is not valid hex of the expected width.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Hasher computes the digest of a byte sequence.
type Hasher interface {
	// Name is the registry name, e.g. "sha256".
	Name() string
	// Size is the digest length in bytes; the hex form is twice as long.
	Size() int
	// Digest returns the lowercase hex digest of data.
	Digest(data []byte) string
}

// poolHasher adapts a hash.Hash constructor. Hash states are recycled through
// a sync.Pool so the hot loop does not allocate a fresh state per variant.
type poolHasher struct {
	name string
	size int
	pool sync.Pool
}

func newPoolHasher(name string, newFn func() hash.Hash) *poolHasher {
	h := &poolHasher{
		name: name,
		size: newFn().Size(),
	}
	h.pool.New = func() any { return newFn() }
	return h
}

func (h *poolHasher) Name() string { return h.name }

func (h *poolHasher) Size() int { return h.size }

func (h *poolHasher) Digest(data []byte) string {
	state := h.pool.Get().(hash.Hash)
	state.Reset()
	state.Write(data)
	var buf [64]byte
	sum := state.Sum(buf[:0])
	h.pool.Put(state)
	return hex.EncodeToString(sum)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Hasher{}
)

func init() {
	Register(newPoolHasher("md5", md5.New))
	Register(newPoolHasher("sha1", sha1.New))
	Register(newPoolHasher("sha256", sha256.New))
	Register(newPoolHasher("sha512", sha512.New))
	Register(newPoolHasher("sha3-256", sha3.New256))
	Register(newPoolHasher("md4", md4.New))
	Register(newPoolHasher("ripemd160", ripemd160.New))
	Register(newPoolHasher("blake2b-256", func() hash.Hash {
		// only fails for keys longer than 64 bytes
		h, _ := blake2b.New256(nil)
		return h
	}))
	Register(newPoolHasher("blake3", func() hash.Hash { return blake3.New() }))
}

// Register adds h to the registry, replacing any hasher with the same name.
func Register(h Hasher) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(h.Name())] = h
}

// Get returns the hasher registered under name (case insensitive).
func Get(name string) (Hasher, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if h, ok := registry[strings.ToLower(strings.TrimSpace(name))]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownAlgorithm, name, strings.Join(listLocked(), ", "))
}

// List returns the registered algorithm names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listLocked()
}

func listLocked() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeDigest trims and lowercases target and checks that it is hex of
// exactly 2*h.Size() characters.
func NormalizeDigest(h Hasher, target string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(target))
	if want := h.Size() * 2; len(normalized) != want {
		return "", fmt.Errorf("%w: %s digest must be %d hex characters, got %d", ErrInvalidDigest, h.Name(), want, len(normalized))
	}
	if _, err := hex.DecodeString(normalized); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return normalized, nil
}
