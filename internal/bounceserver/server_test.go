package bounceserver

import (
	"net"
	"testing"
	"time"

	"blitter.com/go/bounce/internal/bouncekey"
	"blitter.com/go/bounce/internal/handshake"
)

func TestServeCancellation(t *testing.T) {
	srv := New(Config{
		PublicAddr:  "127.0.0.1:0",
		AdapterAddr: "127.0.0.1:0",
		Key:         bouncekey.Key("0123456789abcdef"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case info := <-waitListening(srv):
		if info.PublicAddr == "" || info.AdapterAddr == "" {
			t.Fatal("listening info missing addresses")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never reported listening")
	}

	srv.Cancel()

	select {
	case err := <-errCh:
		if err != ErrInterrupted {
			t.Fatalf("Serve returned %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return promptly after Cancel")
	}
}

func waitListening(srv *Server) <-chan ListenInfo {
	ch := make(chan ListenInfo, 1)
	go func() {
		ch <- srv.Listening().Await()
	}()
	return ch
}

func TestHappyPathPairingAndBridge(t *testing.T) {
	key := bouncekey.Key("0123456789abcdef")
	srv := New(Config{
		PublicAddr:  "127.0.0.1:0",
		AdapterAddr: "127.0.0.1:0",
		Key:         key,
		Timeout:     time.Second,
	})

	go srv.Serve()
	defer srv.Cancel()

	info := srv.Listening().Await()

	// Client side: dial the adapter port and authenticate, exactly as C7 would.
	adapterConn, err := net.Dial("tcp", info.AdapterAddr)
	if err != nil {
		t.Fatalf("dial adapter: %v", err)
	}
	defer adapterConn.Close()

	pairCh := make(chan handshake.DirectionalPair, 1)
	errCh := make(chan error, 1)
	go func() {
		p, err := handshake.Authenticate(adapterConn, key, time.Second)
		if err != nil {
			errCh <- err
			return
		}
		pairCh <- p
	}()

	// End-user side: dial the public port.
	userConn, err := net.Dial("tcp", info.PublicAddr)
	if err != nil {
		t.Fatalf("dial public: %v", err)
	}
	defer userConn.Close()

	var clientPair handshake.DirectionalPair
	select {
	case clientPair = <-pairCh:
	case err := <-errCh:
		t.Fatalf("client handshake: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("client handshake never completed")
	}

	// The server writes "connected" in cleartext right after pairing.
	marker := make([]byte, 9)
	adapterConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFullN(adapterConn, marker); err != nil {
		t.Fatalf("reading connected marker: %v", err)
	}
	if string(marker) != "connected" {
		t.Fatalf("got marker %q, want %q", marker, "connected")
	}

	// Now the bridge is live: bytes written by the "destination" (acting
	// through the adapter's encrypted side) should appear at the end user,
	// XOR-decoded.
	payload := []byte("hello from destination")
	encoded := append([]byte(nil), payload...)
	clientPair.Write.Process(encoded)
	if _, err := adapterConn.Write(encoded); err != nil {
		t.Fatalf("writing encrypted payload: %v", err)
	}

	got := make([]byte, len(payload))
	userConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFullN(userConn, got); err != nil {
		t.Fatalf("reading decoded payload at end user: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func readFullN(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestAdapterHandshakeFailureDoesNotStopServer(t *testing.T) {
	key := bouncekey.Key("0123456789abcdef")
	srv := New(Config{
		PublicAddr:  "127.0.0.1:0",
		AdapterAddr: "127.0.0.1:0",
		Key:         key,
		Timeout:     100 * time.Millisecond,
	})

	go srv.Serve()
	defer srv.Cancel()

	info := srv.Listening().Await()

	// Bad adapter: connect and immediately close without any handshake.
	badConn, err := net.Dial("tcp", info.AdapterAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	badConn.Close()

	// Give the server a moment to process and discard the bad adapter.
	time.Sleep(50 * time.Millisecond)

	// A second, well-behaved adapter should still be able to authenticate.
	goodConn, err := net.Dial("tcp", info.AdapterAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer goodConn.Close()

	if _, err := handshake.Authenticate(goodConn, key, time.Second); err != nil {
		t.Fatalf("second adapter handshake: %v", err)
	}
}
