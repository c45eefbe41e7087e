package keystream

import (
	"bytes"
	"math/rand"
	"testing"
)

func mustNew(t *testing.T, seed [32]byte) *Keystream {
	t.Helper()
	ks, err := New(seed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ks
}

func TestDeterminism(t *testing.T) {
	var seed [32]byte
	copy(seed[:], "the quick brown fox jumps over!")

	a := mustNew(t, seed)
	b := mustNew(t, seed)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		n := 1 + r.Intn(4096)
		bufA := make([]byte, n)
		bufB := make([]byte, n)
		a.Process(bufA)
		b.Process(bufB)
		if !bytes.Equal(bufA, bufB) {
			t.Fatalf("round %d: diverged at chunk size %d", i, n)
		}
	}
}

func TestXORInverse(t *testing.T) {
	var seed [32]byte
	copy(seed[:], "another seed value, 32 bytes!!!")

	enc := mustNew(t, seed)
	dec := mustNew(t, seed)

	orig := []byte("hello, world, this is a plaintext payload")
	buf := append([]byte(nil), orig...)

	enc.Process(buf)
	if bytes.Equal(buf, orig) {
		t.Fatal("Process did not change the buffer")
	}
	dec.Process(buf)
	if !bytes.Equal(buf, orig) {
		t.Fatal("encrypt-then-decrypt did not recover the original")
	}
}

func TestRefillBoundary(t *testing.T) {
	var seed [32]byte
	a := mustNew(t, seed)
	b := mustNew(t, seed)

	// Drive 'a' across the 1024-byte refill boundary in one call...
	bufA := make([]byte, refillSize+17)
	a.Process(bufA)

	// ...and drive 'b' the same distance in small, uneven chunks.
	bufB := make([]byte, refillSize+17)
	chunks := []int{3, 500, 1, 537}
	off := 0
	for _, c := range chunks {
		b.Process(bufB[off : off+c])
		off += c
	}

	if !bytes.Equal(bufA, bufB) {
		t.Fatal("chunking across the refill boundary changed the output")
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	var seed1, seed2 [32]byte
	copy(seed1[:], "seed one, thirty two bytes long")
	copy(seed2[:], "seed two, thirty two bytes long")

	a := mustNew(t, seed1)
	b := mustNew(t, seed2)

	bufA := make([]byte, 64)
	bufB := make([]byte, 64)
	a.Process(bufA)
	b.Process(bufB)

	if bytes.Equal(bufA, bufB) {
		t.Fatal("different seeds produced identical output")
	}
}
