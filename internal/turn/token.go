package turn

import "sync"

// CancelToken invalidates one in-flight turn. Cancellation is cooperative:
// the streaming loop checks the token between frames, so frames already in
// flight are discarded rather than applied.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func newCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel invalidates the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether the token has been invalidated.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
