// Package handshake implements C4: mutual authentication plus seed
// exchange over a plain TCP stream, producing a DirectionalPair of
// Keystreams (spec.md 4.4).
//
// Grounded on spec.md 4.4 for the authoritative wire sequence, the
// teacher's HKExDialSetup/HKExAcceptSetup symmetric-peer shape in
// xsnet/net.go (both sides run near-identical code, differing only in
// what each locally generates), and original_source/src/auth.rs's
// process() for the AES-CTR seed-encryption step.
package handshake

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand"
	"net"
	"time"

	"blitter.com/go/bounce/internal/bouncekey"
	"blitter.com/go/bounce/internal/keystream"
	"blitter.com/go/bounce/internal/xchg"
)

// magic is the 6-byte literal exchanged first, doubling as a cheap
// protocol-version/peer-type check (spec.md 4.4 step 1).
var magic = [6]byte{'b', 'o', 'u', 'n', 'c', 'e'}

// DefaultTimeout is the reference per-exchange read timeout (spec.md 4.4:
// "All steps use the same 500 ms per-exchange read timeout in the
// reference; §6 standardises it").
const DefaultTimeout = 500 * time.Millisecond

// ErrProtocol covers wrong magic, failed confirmation, and other
// InvalidData conditions from spec.md §7's ProtocolError kind.
var ErrProtocol = errors.New("not a bounce peer")

// DirectionalPair is the two Keystreams a peer holds after a successful
// handshake (spec.md §3): Write encrypts bytes leaving this peer, Read
// decrypts bytes arriving from the peer. On the peer, the labels are
// swapped — this peer's Write is byte-identical to the other's Read.
type DirectionalPair struct {
	Write *keystream.Keystream
	Read  *keystream.Keystream
}

// Authenticate runs the symmetric handshake protocol over conn using key
// as the shared secret, with timeout applied to every exchange step
// (pass handshake.DefaultTimeout for the spec's reference value). Both
// peers run this same function; none of the decisions inside it depend on
// whether the caller is logically "client" or "server".
func Authenticate(conn net.Conn, key bouncekey.Key, timeout time.Duration) (DirectionalPair, error) {
	// Step 1: magic.
	var peerMagic [6]byte
	if err := xchg.ReadAndWrite(conn, magic[:], peerMagic[:], timeout); err != nil {
		return DirectionalPair{}, classify(err)
	}
	if peerMagic != magic {
		return DirectionalPair{}, fmt.Errorf("%w: This is not a bounce server or client", ErrProtocol)
	}

	// Step 2: nonce. Non-cryptographic RNG is acceptable (spec.md 4.4 step
	// 2: "nonces need only be unique not secret").
	myNonce := make([]byte, len(key))
	r := mrand.New(mrand.NewSource(time.Now().UnixNano()))
	for i := range myNonce {
		myNonce[i] = byte(r.Intn(256))
	}
	theirNonce := make([]byte, len(key))
	if err := xchg.ReadAndWrite(conn, myNonce, theirNonce, timeout); err != nil {
		return DirectionalPair{}, classify(err)
	}

	// Step 3: seed exchange, AES-CTR(key, nonce, seed).
	var mySeed [32]byte
	if _, err := rand.Read(mySeed[:]); err != nil {
		return DirectionalPair{}, fmt.Errorf("handshake: generating seed: %w", err)
	}
	encMySeed, err := ctrCrypt(key, myNonce, mySeed[:])
	if err != nil {
		return DirectionalPair{}, fmt.Errorf("handshake: encrypting seed: %w", err)
	}
	encTheirSeed := make([]byte, 32)
	if err := xchg.ReadAndWrite(conn, encMySeed, encTheirSeed, timeout); err != nil {
		return DirectionalPair{}, classify(err)
	}
	theirSeedBytes, err := ctrCrypt(key, theirNonce, encTheirSeed)
	if err != nil {
		return DirectionalPair{}, fmt.Errorf("handshake: decrypting peer seed: %w", err)
	}
	var theirSeed [32]byte
	copy(theirSeed[:], theirSeedBytes)

	// Step 4: instantiate keystreams.
	writeKS, err := keystream.New(mySeed)
	if err != nil {
		return DirectionalPair{}, fmt.Errorf("handshake: %w", err)
	}
	readKS, err := keystream.New(theirSeed)
	if err != nil {
		return DirectionalPair{}, fmt.Errorf("handshake: %w", err)
	}

	// Step 5: confirmation.
	myConfirm := append([]byte(nil), magic[:]...)
	writeKS.Process(myConfirm)
	theirConfirm := make([]byte, 6)
	if err := xchg.ReadAndWrite(conn, myConfirm, theirConfirm, timeout); err != nil {
		return DirectionalPair{}, classify(err)
	}
	readKS.Process(theirConfirm)
	if !bytes.Equal(theirConfirm, magic[:]) {
		return DirectionalPair{}, fmt.Errorf("%w: authentication failed", ErrProtocol)
	}

	return DirectionalPair{Write: writeKS, Read: readKS}, nil
}

// classify maps xchg errors onto the handshake's error taxonomy: a
// premature close (xchg.ErrPrematureClose) is additionally wrapped with
// ErrProtocol, while timeouts (xchg.ErrTimeout) and other I/O errors pass
// through unchanged.
func classify(err error) error {
	if errors.Is(err, xchg.ErrPrematureClose) {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return err
}

// ctrCrypt runs AES-CTR under (key, nonce) over src and returns a fresh
// slice — AES-CTR is an involution keyed by (key, iv), so the same
// function both encrypts the outbound seed and decrypts the inbound one
// (spec.md 4.4 step 3), matching original_source/src/auth.rs's process().
func ctrCrypt(key bouncekey.Key, nonce []byte, src []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce) // nonce may be shorter/longer than BlockSize; copy truncates/zero-pads
	stream := cipher.NewCTR(block, iv)
	dst := make([]byte, len(src))
	stream.XORKeyStream(dst, src)
	return dst, nil
}
