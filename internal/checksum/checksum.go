// Package checksum computes content digests for stored blobs.
//
// Digests are BLAKE3-256, hex encoded. They detect accidental corruption
// between the local pipeline and the blob backend; deliberate tampering is
// caught by the cipher's authentication tag instead.
package checksum

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// New returns a hasher that can be fed incrementally.
// Finish it with Sum to get the hex digest.
func New() hash.Hash {
	return blake3.New()
}

// Digest returns the hex digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader digests everything read from r without buffering it.
func Reader(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read stream: %w", err)
	}
	return Sum(h), nil
}

// Sum returns the hex digest accumulated in h.
func Sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether two hex digests are the same, ignoring case. The
// decoded bytes are compared in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	da, errA := hex.DecodeString(a)
	db, errB := hex.DecodeString(b)
	if errA != nil || errB != nil {
		return false
	}
	return subtle.ConstantTimeCompare(da, db) == 1
}
