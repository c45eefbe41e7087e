package synctoken

import "sync"

// CompletionToken is a one-shot readiness signal carrying a payload of
// type T (spec.md 4.2's CompletionToken<T>, e.g. "server is now listening,
// bound to port X"). Grounded on original_source/src/completion_token.rs's
// Completable/CompletionToken pair, widened from that file's value-less
// signal to the value-carrying shape spec.md asks for.
//
// Multiple Complete calls after the first are ignored, matching the
// spec's "Multiple completes after the first are ignored."
type CompletionToken[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	value    T
	complete bool
}

// NewCompletionToken returns a fresh, incomplete token.
func NewCompletionToken[T any]() *CompletionToken[T] {
	return &CompletionToken[T]{done: make(chan struct{})}
}

// Complete sets the value and wakes any waiters. Idempotent: only the
// first call has any effect.
func (t *CompletionToken[T]) Complete(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.complete {
		return
	}
	t.value = v
	t.complete = true
	close(t.done)
}

// Await blocks until Complete is called and returns the completed value.
// It cannot be cancelled; callers that need to select against other
// events use Done instead.
func (t *CompletionToken[T]) Await() T {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Done returns a channel closed once Complete has been called, so a
// caller can select on it alongside other events instead of blocking in
// Await.
func (t *CompletionToken[T]) Done() <-chan struct{} {
	return t.done
}

// Value returns the completed value and whether completion has happened
// yet, without blocking.
func (t *CompletionToken[T]) Value() (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.complete
}
