// Package bridge implements C5: two concurrent read/XOR/write loops
// between a "clear" and an "encrypted" socket with coordinated shutdown
// (spec.md 4.5).
//
// Grounded on original_source/src/bridge.rs's bridge/
// bridge_connections_encrypted_{read,write} (spawn both directions,
// race whichever finishes first, flush, then shutdown both sockets) and
// the teacher's TCP_NODELAY + read/decrypt/write loop shape in
// xsnet/net.go's Read/WritePacket — unlike the teacher's length-prefixed,
// HMAC-tagged framing, C5 is a pure XOR byte stream with no on-wire
// header, per spec.md's framing Non-goal.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"net"

	"blitter.com/go/bounce/internal/blog"
	"blitter.com/go/bounce/internal/handshake"
)

// bufSize is the maximum chunk read per iteration (spec.md 4.5: "no
// buffer larger than 4098 bytes is held across an await").
const bufSize = 4098

// Bridge wires clear and encrypted together and returns once both
// directions have shut down. pair.Write encrypts bytes moving
// clear→encrypted; pair.Read decrypts bytes moving encrypted→clear.
//
// clearName/encryptedName are used only for logging, to tell sessions
// apart in the log stream.
func Bridge(pair handshake.DirectionalPair, clear, encrypted net.Conn, clearName, encryptedName string) {
	if tc, ok := clear.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			blog.Warning("bridge %s<->%s: setting TCP_NODELAY on clear: %v", clearName, encryptedName, err)
			clear.Close()
			encrypted.Close()
			return
		}
	}
	if tc, ok := encrypted.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			blog.Warning("bridge %s<->%s: setting TCP_NODELAY on encrypted: %v", clearName, encryptedName, err)
			clear.Close()
			encrypted.Close()
			return
		}
	}

	type outcome struct {
		direction string
		err       error
	}
	done := make(chan outcome, 2)

	go func() {
		err := pump(clear, encrypted, pair.Write)
		done <- outcome{"outbound", err}
	}()
	go func() {
		err := pump(encrypted, clear, pair.Read)
		done <- outcome{"inbound", err}
	}()

	first := <-done
	if first.err != nil {
		blog.Debug("bridge %s<->%s: %s direction ended with error: %v", clearName, encryptedName, first.direction, first.err)
		clear.Close()
		encrypted.Close()
	} else {
		blog.Debug("bridge %s<->%s: %s direction ended cleanly", clearName, encryptedName, first.direction)
		switch first.direction {
		case "outbound":
			halfClose(clear, false /* write */)
			halfClose(encrypted, true /* both */)
		case "inbound":
			halfClose(encrypted, false /* write */)
			halfClose(clear, true /* both */)
		}
	}

	second := <-done
	if second.err != nil {
		blog.Debug("bridge %s<->%s: %s direction ended with error: %v", clearName, encryptedName, second.direction, second.err)
	}

	clear.Close()
	encrypted.Close()
	blog.Info("bridge %s<->%s: ended", clearName, encryptedName)
}

// pump copies from src to dst, XOR-ing each chunk in place with ks before
// writing. A read of 0 bytes (clean EOF) ends the pump with a nil error;
// any other read/write error ends it with that error.
func pump(src, dst net.Conn, ks interface{ Process([]byte) }) error {
	buf := make([]byte, bufSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			ks.Process(chunk)
			if _, werr := writeAll(dst, chunk); werr != nil {
				return fmt.Errorf("bridge write: %w", werr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("bridge read: %w", rerr)
		}
	}
}

func writeAll(w net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// halfClose shuts down the write half of conn, or both halves if both is
// true. Connections that don't support half-close (anything but
// *net.TCPConn) are fully closed either way.
func halfClose(conn net.Conn, both bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok || both {
		conn.Close()
		return
	}
	if err := tc.CloseWrite(); err != nil {
		conn.Close()
	}
}
