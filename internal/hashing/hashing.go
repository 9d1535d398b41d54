// Package hashing provides content hashing for index idempotency checks.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the length in bytes of a content hash.
const Size = sha256.Size

// SumReader streams the reader through SHA-256 and returns the digest.
func SumReader(r io.Reader) ([]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hash stream: %w", err)
	}
	return h.Sum(nil), nil
}

// SumBytes hashes a byte slice.
func SumBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// ToHex encodes a digest as lowercase hex.
func ToHex(digest []byte) string {
	return hex.EncodeToString(digest)
}

// FromHex decodes a lowercase or uppercase hex digest.
func FromHex(s string) ([]byte, error) {
	digest, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex digest: %w", err)
	}
	return digest, nil
}

// Equal reports whether two digests are byte-identical.
func Equal(a, b []byte) bool {
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
