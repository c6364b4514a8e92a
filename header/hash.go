package header

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// HashSize is the length of a block hash in bytes.
const HashSize = 32

// ErrMalformedHash is thrown when parsing a hash of the wrong length.
var ErrMalformedHash = errors.New("header: malformed hash")

// Hash is the double-SHA256 identifier of a Header. Bytes are kept in the
// internal (wire) order; String renders the canonical byte-reversed hex form.
type Hash [HashSize]byte

// ZeroHash is the all-zero hash referenced by the genesis header.
var ZeroHash = Hash{}

// DoubleHashRaw computes SHA-256(SHA-256(b)).
func DoubleHashRaw(b []byte) Hash {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// String encodes the hash as byte-reversed hex, the display form block
// hashes are quoted in everywhere else.
func (h Hash) String() string {
	var rev [HashSize]byte
	for i, b := range h {
		rev[HashSize-1-i] = b
	}
	return hex.EncodeToString(rev[:])
}

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ParseHash decodes a byte-reversed hex string back into a Hash.
// It is the inverse of String.
func ParseHash(s string) (Hash, error) {
	if hex.DecodedLen(len(s)) != HashSize {
		return ZeroHash, fmt.Errorf("%w: %q", ErrMalformedHash, s)
	}

	var rev [HashSize]byte
	if _, err := hex.Decode(rev[:], []byte(s)); err != nil {
		return ZeroHash, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	var h Hash
	for i, b := range rev {
		h[HashSize-1-i] = b
	}
	return h, nil
}
