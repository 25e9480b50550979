// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex hashes the input and returns the full hex digest.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest. It is used for
// stable, collision-tolerant identifiers such as image file names and
// URL-derived item keys. n is clamped to the digest length.
func Short(s string, n int) string {
	digest := Hex([]byte(s))
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
