// Package synctoken implements C2: the cancellation and completion
// primitives used for cooperative shutdown and readiness signalling
// (spec.md 4.2).
//
// Grounded on original_source/src/cancelation_token.rs's
// CancelationToken/Cancelable/CancelationTokenFuture, translated from
// Rust's hand-rolled Future/Waker shape into the idiomatic Go one: a
// closed channel IS the "cancelled" signal, so select replaces the
// original's allow_cancel/select! racing. This mirrors how the teacher's
// own xsnet.Conn delivers one-shot readiness (its WinCh channel) to a
// waiting goroutine rather than polling a flag.
package synctoken

import (
	"context"
	"sync"
)

// CancellationToken is the producer handle: cancel() is idempotent and
// safe to call from any goroutine, any number of times.
type CancellationToken struct {
	ch   chan struct{}
	once sync.Once
}

// Cancelable is the consumer handle sharing state with a CancellationToken.
// Cloning (taking another reference to the same *Cancelable) yields an
// additional handle sharing state, matching spec.md 4.2's "cloneable"
// requirement — in Go this is simply sharing the pointer.
type Cancelable struct {
	ch chan struct{}
}

// NewCancellationToken returns a fresh producer/consumer pair.
func NewCancellationToken() (*CancellationToken, *Cancelable) {
	ch := make(chan struct{})
	return &CancellationToken{ch: ch}, &Cancelable{ch: ch}
}

// Cancel signals cancellation. Idempotent and safe for concurrent callers:
// only the first call closes the channel, however many goroutines race in.
func (t *CancellationToken) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether cancellation has fired.
func (c *Cancelable) Cancelled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once cancellation fires, for use
// directly in a select alongside other readiness channels — this is how
// C6's accept loop races the pending-clear accept, the adapter peek, and
// cancellation against one another without a hand-rolled future.
func (c *Cancelable) Done() <-chan struct{} {
	return c.ch
}

// AllowCancel races fn (run in its own goroutine) against cancellation. If
// cancellation fires first (or had already fired), it returns fallback
// immediately without waiting for fn to finish; otherwise it returns fn's
// result. No spurious wakes: the result channel is only ever read once.
func AllowCancel[T any](ctx context.Context, c *Cancelable, fn func(context.Context) T, fallback T) T {
	if c.Cancelled() {
		return fallback
	}
	resCh := make(chan T, 1)
	go func() {
		resCh <- fn(ctx)
	}()
	select {
	case <-c.Done():
		return fallback
	case res := <-resCh:
		return res
	}
}
