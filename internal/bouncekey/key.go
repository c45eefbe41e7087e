// Package bouncekey implements the shared-secret Key type (spec.md §3):
// an immutable 16/24/32-byte value, created at configuration time and
// shared freely between the handshake and the KCP transport's PBKDF2
// derivation. Grounded on original_source/src/keys.rs's generate_keys/
// parse_key, widened from that file's 16-byte-only snapshot to the full
// 16/24/32 range spec.md requires.
package bouncekey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Key is an immutable shared secret of length 16, 24, or 32 bytes.
type Key []byte

// Valid reports whether the key length is one of the three AES key sizes.
func (k Key) Valid() bool {
	switch len(k) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}

// Generate returns a fresh 256-bit key drawn from a cryptographic source,
// matching the `keys` CLI mode (spec.md §6: "Generate and print a fresh
// 256-bit key").
func Generate() (Key, error) {
	k := make(Key, 32)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return k, nil
}

// String returns the key's standard base64 encoding (spec.md §6's "Key
// encoding").
func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k)
}

// Parse decodes a standard-base64 key and rejects any decoded length other
// than 16, 24, or 32 bytes.
func Parse(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	k := Key(raw)
	if !k.Valid() {
		return nil, fmt.Errorf("key must decode to 16, 24, or 32 bytes, got %d", len(raw))
	}
	return k, nil
}
