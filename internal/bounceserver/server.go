// Package bounceserver implements C6: the server accept loop that pairs
// each authenticated adapter connection with the next-arriving clear
// connection (spec.md 4.6).
//
// Grounded on spec.md 4.6 for the authoritative state machine, the
// teacher's hkexshd.go main() accept loop (accept, log, spawn, continue on
// per-session error, never let one bad connection kill the listener) for
// the outer shape, and original_source/src/server.rs's run_server for the
// adapter-accept/pair/bridge sequence. The "persistent pending-clear
// accept carried across iterations" and "peek race" design (spec.md §9)
// is modelled here as persistent goroutines plus channels (spec.md §9's
// option (a)), which is the natural idiom in Go.
package bounceserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"blitter.com/go/bounce/internal/blog"
	"blitter.com/go/bounce/internal/bouncekey"
	"blitter.com/go/bounce/internal/bridge"
	"blitter.com/go/bounce/internal/handshake"
	"blitter.com/go/bounce/internal/kcptransport"
	"blitter.com/go/bounce/internal/synctoken"
)

// connected is the 9-byte literal the server writes down the adapter
// socket, in cleartext, once a clear peer has been paired (spec.md §6/§9:
// sent "before the bridge starts" and therefore never passes through the
// XOR writer).
var connected = []byte("connected")

// ErrInterrupted is returned from Serve when cancellation was requested
// (spec.md §7's Interrupted error kind).
var ErrInterrupted = errors.New("server terminated")

// ListenInfo is the CompletionToken payload delivered once both listeners
// are bound (spec.md §3: "server is now listening, bound to port X").
type ListenInfo struct {
	PublicAddr  string
	AdapterAddr string
}

// Config collects the parameters for a Server (spec.md §6's server mode
// args/env).
type Config struct {
	PublicAddr  string
	AdapterAddr string
	Key         bouncekey.Key
	Timeout     time.Duration // handshake per-exchange timeout; 0 means handshake.DefaultTimeout
	Transport   string        // "tcp" (default) or "kcp" for the adapter listener
}

// Server runs C6. Create with New, then call Serve; call Cancel from
// another goroutine (or the process's signal handler) to unwind it.
type Server struct {
	cfg       Config
	cancel    *synctoken.CancellationToken
	cancelOut *synctoken.Cancelable
	listening *synctoken.CompletionToken[ListenInfo]
}

// New constructs a Server ready to Serve.
func New(cfg Config) *Server {
	if cfg.Timeout == 0 {
		cfg.Timeout = handshake.DefaultTimeout
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	cancel, cancelOut := synctoken.NewCancellationToken()
	return &Server{
		cfg:       cfg,
		cancel:    cancel,
		cancelOut: cancelOut,
		listening: synctoken.NewCompletionToken[ListenInfo](),
	}
}

// Cancel requests shutdown of the accept loop (spec.md 4.2's producer
// handle). Idempotent.
func (s *Server) Cancel() {
	s.cancel.Cancel()
}

// Listening resolves once both listeners are bound, carrying their actual
// addresses (useful when PublicAddr/AdapterAddr use port 0).
func (s *Server) Listening() *synctoken.CompletionToken[ListenInfo] {
	return s.listening
}

// Serve runs the accept loop until cancelled or a bind/listener error
// occurs. Per-session errors (bad handshake, adapter misbehaviour) are
// logged and swallowed; only bind failures and ErrInterrupted escape, per
// spec.md §7's propagation policy for C6.
func (s *Server) Serve() error {
	publicListener, err := net.Listen("tcp", s.cfg.PublicAddr)
	if err != nil {
		return fmt.Errorf("bounceserver: binding public port: %w", err)
	}
	defer publicListener.Close()

	adapterListener, err := s.listenAdapter()
	if err != nil {
		return fmt.Errorf("bounceserver: binding adapter port: %w", err)
	}
	defer adapterListener.Close()

	s.listening.Complete(ListenInfo{
		PublicAddr:  publicListener.Addr().String(),
		AdapterAddr: adapterListener.Addr().String(),
	})
	blog.Info("bounceserver: listening public=%s adapter=%s", publicListener.Addr(), adapterListener.Addr())

	// Close both listeners once cancellation fires, so any in-flight
	// Accept() unblocks instead of leaking forever.
	go func() {
		<-s.cancelOut.Done()
		publicListener.Close()
		adapterListener.Close()
	}()

	pending := newPendingClearAccept(publicListener)

	for {
		adapterConn, err := acceptCancellable(adapterListener, s.cancelOut)
		if errors.Is(err, ErrInterrupted) {
			return ErrInterrupted
		}
		if err != nil {
			if s.cancelOut.Cancelled() {
				return ErrInterrupted
			}
			blog.Warning("bounceserver: adapter accept: %v", err)
			continue
		}
		blog.Info("bounceserver: adapter accepted from %s", adapterConn.RemoteAddr())

		go s.handleAdapter(adapterConn, pending, publicListener)
	}
}

func (s *Server) listenAdapter() (net.Listener, error) {
	if s.cfg.Transport == "kcp" {
		return kcptransport.Listen(s.cfg.AdapterAddr, s.cfg.Key)
	}
	return net.Listen("tcp", s.cfg.AdapterAddr)
}

// handleAdapter runs steps 2-5 of spec.md 4.6 for one adapter connection.
func (s *Server) handleAdapter(adapterConn net.Conn, pending *pendingClearAccept, publicListener net.Listener) {
	pair, err := handshake.Authenticate(adapterConn, s.cfg.Key, s.cfg.Timeout)
	if err != nil {
		blog.Info("bounceserver: adapter handshake failed: %v", err)
		adapterConn.Close()
		return
	}

	clearConn, err := pairWithClear(adapterConn, pending, publicListener, s.cancelOut)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			return
		}
		// logged inside pairWithClear; adapter already closed there.
		return
	}

	if _, err := adapterConn.Write(connected); err != nil {
		blog.Warning("bounceserver: writing connected marker: %v", err)
		adapterConn.Close()
		clearConn.Close()
		return
	}

	blog.Info("bounceserver: session paired, starting bridge")
	bridge.Bridge(pair, clearConn, adapterConn, "clear", "adapter")
}

// pairWithClear races the standing pending-clear accept, a 1-byte peek of
// the adapter socket, and cancellation (spec.md 4.6 step 3).
//
// The peek is a blocking Read on adapterConn run in its own goroutine.
// Whichever branch of the select actually wins, that goroutine must be
// stopped before pairWithClear returns: the pendingCh-wins path hands
// adapterConn straight to bridge.Bridge, whose inbound pump also reads
// adapterConn, and a still-running peek would race it for bytes of the
// real encrypted stream. stopPeek forces the blocked Read to return via a
// past read deadline, waits for it to actually finish, then clears the
// deadline again so the next reader (another loop iteration's peek, or
// the bridge) sees a clean socket.
func pairWithClear(adapterConn net.Conn, pending *pendingClearAccept, publicListener net.Listener, cancelOut *synctoken.Cancelable) (net.Conn, error) {
	for {
		pendingCh := pending.channel()

		peekCh := make(chan peekOutcome, 1)
		go func() {
			buf := make([]byte, 1)
			n, err := adapterConn.Read(buf)
			peekCh <- peekOutcome{n, err}
		}()

		select {
		case outcome := <-pendingCh:
			pending.consumeAndReplenish(publicListener)
			stopPeek(adapterConn, peekCh)
			if outcome.err != nil {
				blog.Warning("bounceserver: clear accept: %v", outcome.err)
				continue
			}
			return outcome.conn, nil

		case peek := <-peekCh:
			if peek.n == 0 && (peek.err == nil || errors.Is(peek.err, io.EOF)) {
				blog.Info("bounceserver: adapter ended before pairing")
				shutdownWrite(adapterConn)
				return nil, errAdapterEnded
			}
			if peek.err != nil {
				blog.Warning("bounceserver: adapter peek: %v", peek.err)
				adapterConn.Close()
				return nil, peek.err
			}
			blog.Warning("bounceserver: adapter wrote out of turn before pairing")
			adapterConn.Close()
			return nil, errAdapterSpoke

		case <-cancelOut.Done():
			stopPeek(adapterConn, peekCh)
			adapterConn.Close()
			return nil, ErrInterrupted
		}
	}
}

// stopPeek unblocks a peek goroutine still waiting on adapterConn.Read and
// waits for it to actually exit before returning, so the caller can safely
// hand adapterConn to a new reader.
func stopPeek(conn net.Conn, peekCh chan peekOutcome) {
	conn.SetReadDeadline(time.Unix(0, 1))
	<-peekCh
	conn.SetReadDeadline(time.Time{})
}

var (
	errAdapterEnded = errors.New("adapter ended before pairing")
	errAdapterSpoke = errors.New("adapter wrote out of turn")
)

// shutdownWrite half-closes conn's write side if it supports it
// (*net.TCPConn does; a KCP session does not, so it falls back to a full
// close — acceptable since the adapter is being discarded either way).
func shutdownWrite(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
		return
	}
	conn.Close()
}

type acceptOutcome struct {
	conn net.Conn
	err  error
}

type peekOutcome struct {
	n   int
	err error
}

// acceptCancellable runs one Accept() call racing cancellation; the
// Accept() itself is not interrupted — closing the listener (done by
// Serve's cancellation watcher) is what unblocks it.
func acceptCancellable(l net.Listener, cancelOut *synctoken.Cancelable) (net.Conn, error) {
	ch := make(chan acceptOutcome, 1)
	go func() {
		conn, err := l.Accept()
		ch <- acceptOutcome{conn, err}
	}()
	select {
	case <-cancelOut.Done():
		return nil, ErrInterrupted
	case o := <-ch:
		return o.conn, o.err
	}
}

// pendingClearAccept is the "long-lived pending-clear accept task whose
// output is buffered across iterations" from spec.md 4.6: exactly one
// outstanding Accept() on the public listener at a time, replenished only
// once its result has been taken (adopted by a paired adapter, or found to
// be an accept error). All waiting adapters share the one channel, so each
// accepted connection goes to exactly one of them.
type pendingClearAccept struct {
	mu sync.Mutex
	ch chan acceptOutcome
}

func newPendingClearAccept(l net.Listener) *pendingClearAccept {
	p := &pendingClearAccept{}
	p.replenishLocked(l)
	return p
}

func (p *pendingClearAccept) replenishLocked(l net.Listener) {
	if p.ch == nil {
		p.ch = make(chan acceptOutcome, 1)
	}
	ch := p.ch
	go func() {
		conn, err := l.Accept()
		ch <- acceptOutcome{conn, err}
	}()
}

// channel returns the current standing accept channel to race against.
func (p *pendingClearAccept) channel() chan acceptOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

// consumeAndReplenish starts a fresh standing accept for the next
// iteration, after the current one has been adopted or found to have
// errored.
func (p *pendingClearAccept) consumeAndReplenish(l net.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replenishLocked(l)
}
