package workflow

import "sync"

// CancelToken is the structured cancellation signal for one run. It is
// passed by value down the interpreter call tree and checked at node
// boundaries; steps needing immediate notification register a listener
// with OnCancel or select on Done. Cancellation is cooperative; the
// engine refuses to schedule new nodes but never preempts in-flight
// step code.
type CancelToken struct {
	mu        sync.Mutex
	done      chan struct{}
	canceled  bool
	listeners []func()
}

// NewCancelToken creates an un-canceled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel triggers the token. Idempotent; listeners fire exactly once, in
// registration order, on the calling goroutine.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return
	}
	t.canceled = true
	listeners := t.listeners
	t.listeners = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Done returns a channel closed when the token is canceled.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Canceled reports whether the token has been triggered.
func (t *CancelToken) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// OnCancel registers fn to run when the token is canceled. If the token
// is already canceled, fn runs immediately.
func (t *CancelToken) OnCancel(fn func()) {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		fn()
		return
	}
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}
