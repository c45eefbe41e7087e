package bridge

import (
	"bytes"
	"math/rand"
	"net"
	"testing"
	"time"

	"blitter.com/go/bounce/internal/handshake"
	"blitter.com/go/bounce/internal/keystream"
)

// mirroredPairs builds two DirectionalPairs such that A.Write == B.Read and
// A.Read == B.Write, the way a real handshake would produce them, without
// running the network handshake itself.
func mirroredPairs(t *testing.T) (handshake.DirectionalPair, handshake.DirectionalPair) {
	t.Helper()
	var seedAB, seedBA [32]byte
	copy(seedAB[:], "seed from A to B, thirty two by")
	copy(seedBA[:], "seed from B to A, thirty two by")

	aWrite, err := keystream.New(seedAB)
	if err != nil {
		t.Fatal(err)
	}
	bRead, err := keystream.New(seedAB)
	if err != nil {
		t.Fatal(err)
	}
	bWrite, err := keystream.New(seedBA)
	if err != nil {
		t.Fatal(err)
	}
	aRead, err := keystream.New(seedBA)
	if err != nil {
		t.Fatal(err)
	}

	return handshake.DirectionalPair{Write: aWrite, Read: aRead},
		handshake.DirectionalPair{Write: bWrite, Read: bRead}
}

// tcpPipe returns two connected *net.TCPConn values over loopback.
func tcpPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = l.Accept()
		close(accepted)
	}()
	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-accepted
	return client, server
}

// TestBridgeRoundTrip wires up two Bridge() calls back to back (as the
// server side and client side of a real session would each run one) over
// an in-process "encrypted" TCP pair, and checks that payloads written at
// one end-user socket arrive unchanged at the other.
func TestBridgeRoundTrip(t *testing.T) {
	pairA, pairB := mirroredPairs(t)

	// "encrypted" leg: what the two Bridge() instances talk over.
	encA, encB := tcpPipe(t)
	// "clear" legs: stand-ins for the end-user and destination sockets.
	clearUserSide, clearA := tcpPipe(t)
	clearDestSide, clearB := tcpPipe(t)

	go Bridge(pairA, clearA, encA, "clearA", "encA")
	go Bridge(pairB, clearB, encB, "clearB", "encB")

	r := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		n := 1 + r.Intn(4098)
		payload := make([]byte, n)
		r.Read(payload)

		var from, to net.Conn
		if i%2 == 0 {
			from, to = clearUserSide, clearDestSide
		} else {
			from, to = clearDestSide, clearUserSide
		}

		if _, err := from.Write(payload); err != nil {
			t.Fatalf("round %d: write: %v", i, err)
		}
		got := make([]byte, n)
		if err := readFull(to, got); err != nil {
			t.Fatalf("round %d: read: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round %d: payload mismatch", i)
		}
	}

	clearUserSide.Close()
	clearDestSide.Close()
	time.Sleep(50 * time.Millisecond)
}

func TestBridgeHalfClose(t *testing.T) {
	pairA, pairB := mirroredPairs(t)

	encA, encB := tcpPipe(t)
	clearUserSide, clearA := tcpPipe(t)
	clearDestSide, clearB := tcpPipe(t)

	done := make(chan struct{})
	go func() { Bridge(pairA, clearA, encA, "clearA", "encA"); close(done) }()
	go Bridge(pairB, clearB, encB, "clearB", "encB")

	clearUserSide.Close()

	buf := make([]byte, 1)
	clearDestSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clearDestSide.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected EOF on destination side after user close, got n=%d err=%v", n, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not complete after half-close")
	}
}

func readFull(conn net.Conn, buf []byte) error {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}
