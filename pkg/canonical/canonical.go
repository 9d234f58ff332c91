// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization for deterministic hashing of audit artifacts.
//
// Two implementations given identical inputs must produce byte-identical
// canonical forms, so independent auditors can recompute stored hashes.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the RFC 8785 canonical JSON representation of v.
//
// v is marshaled with encoding/json first so struct tags are respected,
// then transformed: map keys sorted lexicographically by UTF-8 bytes,
// numbers in shortest round-trip form, no HTML escaping.
func Bytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON representation of v.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns a hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
