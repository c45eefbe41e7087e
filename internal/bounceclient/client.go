// Package bounceclient implements C7: dial the bounce server's adapter
// port, authenticate, await the "connected" token, dial the local
// destination, and hand off to the bridge — reconnecting whenever the
// bridge or handshake ends (spec.md 4.7).
//
// Grounded on spec.md 4.7 for the authoritative step sequence, the
// teacher's xs.go client driver for the overall reconnect-loop shape, and
// original_source/src/client.rs's run_client for the same loop's control
// flow (dial fatal, handshake/marker-mismatch reloop, destination-dial
// fatal).
package bounceclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"blitter.com/go/bounce/internal/blog"
	"blitter.com/go/bounce/internal/bouncekey"
	"blitter.com/go/bounce/internal/bridge"
	"blitter.com/go/bounce/internal/handshake"
	"blitter.com/go/bounce/internal/kcptransport"
	"blitter.com/go/bounce/internal/synctoken"
)

// ErrInterrupted mirrors spec.md §7's Interrupted kind for the outer
// reconnect loop.
var ErrInterrupted = errors.New("client terminated")

// Config collects a client session's parameters (spec.md §6's client mode
// args/env).
type Config struct {
	ServerAddr string
	DestAddr   string
	Key        bouncekey.Key
	Timeout    time.Duration // handshake per-exchange timeout; 0 means handshake.DefaultTimeout
	Transport  string        // "tcp" (default) or "kcp" for the bounce-server dial
}

// Client runs C7's reconnect loop. Create with New, call Run, call Cancel
// from another goroutine to unwind it (spec.md 4.7: "Loop termination is
// the outer driver's responsibility").
type Client struct {
	cfg       Config
	cancel    *synctoken.CancellationToken
	cancelOut *synctoken.Cancelable
}

// New constructs a Client ready to Run.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = handshake.DefaultTimeout
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	cancel, cancelOut := synctoken.NewCancellationToken()
	return &Client{cfg: cfg, cancel: cancel, cancelOut: cancelOut}
}

// Cancel requests that Run stop reconnecting once its current bridge (if
// any) ends.
func (c *Client) Cancel() {
	c.cancel.Cancel()
}

// Run dials, authenticates, and bridges in a loop until Cancel is called,
// or until a fatal error occurs (bounce-server connect failure,
// destination connect failure — spec.md §7: "C7 treats bounce-server
// connect failure and destination connect failure as fatal; handshake/
// protocol failures reloop").
func (c *Client) Run() error {
	for {
		if c.cancelOut.Cancelled() {
			return ErrInterrupted
		}

		conn, err := c.dialServer()
		if err != nil {
			return fmt.Errorf("bounceclient: dialing bounce server: %w", err)
		}

		pair, err := handshake.Authenticate(conn, c.cfg.Key, c.cfg.Timeout)
		if err != nil {
			blog.Info("bounceclient: handshake failed, reconnecting: %v", err)
			conn.Close()
			continue
		}

		marker := make([]byte, 9)
		if _, err := io.ReadFull(conn, marker); err != nil {
			blog.Info("bounceclient: reading connected marker: %v; reconnecting", err)
			shutdownBoth(conn)
			continue
		}
		if string(marker) != "connected" {
			blog.Info("bounceclient: unexpected marker %q; reconnecting", marker)
			shutdownBoth(conn)
			continue
		}

		destConn, err := net.Dial("tcp", c.cfg.DestAddr)
		if err != nil {
			conn.Close()
			return fmt.Errorf("bounceclient: dialing destination: %w", err)
		}

		blog.Info("bounceclient: bridging session to %s", c.cfg.DestAddr)
		bridge.Bridge(pair, destConn, conn, "destination", "bounce")
		blog.Info("bounceclient: bridge ended, reconnecting")
	}
}

func (c *Client) dialServer() (net.Conn, error) {
	if c.cfg.Transport == "kcp" {
		return kcptransport.Dial(c.cfg.ServerAddr, c.cfg.Key)
	}
	return net.Dial("tcp", c.cfg.ServerAddr)
}

func shutdownBoth(conn net.Conn) {
	conn.Close()
}
