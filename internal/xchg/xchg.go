// Package xchg implements C3: "write buffer A while reading B bytes with
// timeout" over a duplex stream (spec.md 4.3). Every step of the handshake
// swaps equal-sized buffers, so reading and writing must proceed in
// parallel to avoid deadlock.
//
// Grounded on original_source/src/auth.rs's read_and_write/read_buffer
// (spawn the write, read against a timer, InvalidData on premature EOF,
// TimedOut on stall) and the teacher's net.Conn deadline idiom
// (SetReadDeadline/SetWriteDeadline throughout xsnet/net.go) — bounce uses
// one SetReadDeadline call per exchange instead of a software timer
// goroutine, since net.Conn already carries a deadline primitive the Rust
// original didn't have.
package xchg

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrPrematureClose is returned when the peer's socket reaches EOF before
// the expected number of bytes has been read (spec.md 4.3:
// InvalidData("Socket closed prematurely")).
var ErrPrematureClose = errors.New("socket closed prematurely")

// ErrTimeout is returned when a read cannot complete within the configured
// timeout (spec.md 4.3/§7's Timeout error kind).
var ErrTimeout = errors.New("timed out")

// ReadAndWrite sends out in full and concurrently reads exactly len(in)
// bytes from conn, filling in. It returns once both directions succeed.
//
// The timeout is a per-call deadline, not per-chunk (spec.md 4.3): it is
// applied once via conn.SetReadDeadline before the read begins. The
// outbound write is not subject to the timeout; a stuck write surfaces as
// a write error or blocks indefinitely, per spec.
func ReadAndWrite(conn net.Conn, out []byte, in []byte, timeout time.Duration) error {
	writeErrCh := make(chan error, 1)
	go func() {
		_, err := conn.Write(out)
		writeErrCh <- err
	}()

	readErr := readDeadlined(conn, in, timeout)
	writeErr := <-writeErrCh

	if writeErr != nil {
		return fmt.Errorf("xchg write: %w", writeErr)
	}
	if readErr != nil {
		return readErr
	}
	return nil
}

func readDeadlined(conn net.Conn, in []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("xchg: setting read deadline: %w", err)
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	_, err := io.ReadFull(conn, in)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrPrematureClose, err)
	case isTimeout(err):
		return fmt.Errorf("xchg read: %w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("xchg read: %w", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
