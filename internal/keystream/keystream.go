// Package keystream implements C1: a deterministic pseudo-random byte
// stream derived from a 32-byte seed, used to XOR-encrypt bridged traffic
// (spec.md 4.1).
//
// Grounded on original_source/src/xor.rs's Xor<TRng> (1024-byte refill
// buffer, next_byte/process) for the chunked-refill shape, backed by
// golang.org/x/crypto/chacha20 as the CSPRNG (see SPEC_FULL.md Domain
// Stack) rather than the teacher's KEx-derived AES-CTR cipher.Stream —
// ChaCha20's keystream is exactly "any CSPRNG whose state is fully
// determined by the Seed" and needs no asymmetric agreement step.
package keystream

import (
	"golang.org/x/crypto/chacha20"
)

// refillSize is the reference chunk size from spec.md 4.1: "1024 bytes is
// the reference size... An implementer may choose a different chunk size".
const refillSize = 1024

// Keystream is a single-owner stateful generator: no two concurrent
// callers may Process the same instance (spec.md 4.1's "single-owner"
// invariant — the session gives each direction its own instance).
type Keystream struct {
	c    *chacha20.Cipher
	buf  [refillSize]byte
	pos  int
	full int
}

// New constructs a Keystream from a 32-byte seed. Two Keystreams
// constructed from byte-identical seeds emit byte-identical sequences
// (spec.md 4.1's determinism invariant), since chacha20.NewUnauthenticatedCipher
// is a pure function of (key, nonce).
func New(seed [32]byte) (*Keystream, error) {
	// chacha20 needs a nonce distinct from the key; bounce has no secret
	// nonce to spare here; a fixed, all-zero nonce is safe because each
	// seed is used to key exactly one Keystream for exactly one session
	// (spec.md 4.4: "a fresh 32-byte seed" every handshake) — the
	// (key, nonce) pair is never reused across sessions.
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		return nil, err
	}
	ks := &Keystream{c: c}
	ks.refill()
	return ks, nil
}

func (ks *Keystream) refill() {
	for i := range ks.buf {
		ks.buf[i] = 0
	}
	ks.c.XORKeyStream(ks.buf[:], ks.buf[:])
	ks.pos = 0
	ks.full = refillSize
}

// Process XORs buf in place with the next len(buf) bytes of the stream and
// advances state by exactly that many bytes (spec.md 4.1). It is total on
// any finite buffer — there is no error condition.
func (ks *Keystream) Process(buf []byte) {
	for len(buf) > 0 {
		if ks.pos == ks.full {
			ks.refill()
		}
		n := ks.full - ks.pos
		if n > len(buf) {
			n = len(buf)
		}
		chunk := ks.buf[ks.pos : ks.pos+n]
		for i := 0; i < n; i++ {
			buf[i] ^= chunk[i]
		}
		ks.pos += n
		buf = buf[n:]
	}
}
