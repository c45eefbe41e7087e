// Package kcptransport adapts the bounce adapter-port connection onto KCP
// (github.com/xtaci/kcp-go/v5) instead of raw TCP, for deployments where
// the client-to-server adapter path crosses a lossy or UDP-friendly
// network (-transport kcp in cmd/bounce).
//
// Grounded directly on the teacher's hkexnet/kcp.go (kcpDial/kcpListen/
// _newKCPBlockCrypt, PBKDF2 key derivation), trimmed from the teacher's
// eleven-cipher BlockCrypt menu to AES only, since bounce has a single
// Key type rather than a negotiated cipher-extensions list. The bounce
// shared Key is never sent over the wire in cleartext form to derive this
// — it is the same pre-shared secret C4 authenticates with, stretched via
// PBKDF2 the same way the teacher stretches its separate KCP secret.
package kcptransport

import (
	"crypto/sha1"
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"

	"blitter.com/go/bounce/internal/bouncekey"
)

// salt is fixed rather than random: the KCP BlockCrypt key only needs to
// differ from the raw shared Key bytes on the wire, not to be unique per
// session (C4's AES-CTR handshake is what carries the actual per-session
// secrecy via its random seeds).
var salt = []byte("bounce-kcp-transport-salt")

func blockCrypt(key bouncekey.Key) (kcp.BlockCrypt, error) {
	derived := pbkdf2.Key(key, salt, 1024, 32, sha1.New)
	return kcp.NewAESBlockCrypt(derived)
}

// Dial opens a KCP-based adapter connection to addr, keyed from key.
func Dial(addr string, key bouncekey.Key) (net.Conn, error) {
	block, err := blockCrypt(key)
	if err != nil {
		return nil, fmt.Errorf("kcptransport: %w", err)
	}
	conn, err := kcp.DialWithOptions(addr, block, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("kcptransport: dialing %s: %w", addr, err)
	}
	return conn, nil
}

// Listen opens a KCP listener on addr, keyed from key.
func Listen(addr string, key bouncekey.Key) (net.Listener, error) {
	block, err := blockCrypt(key)
	if err != nil {
		return nil, fmt.Errorf("kcptransport: %w", err)
	}
	l, err := kcp.ListenWithOptions(addr, block, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("kcptransport: listening on %s: %w", addr, err)
	}
	return l, nil
}
