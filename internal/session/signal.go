package session

import "sync"

// CancellationSignal is a one-shot flag used to unblock an episode's
// bounded wait early. States: pending, then signaled (terminal).
type CancellationSignal struct {
	once sync.Once
	done chan struct{}
}

// NewCancellationSignal creates a signal in the pending state.
func NewCancellationSignal() *CancellationSignal {
	return &CancellationSignal{done: make(chan struct{})}
}

// Signal moves the flag to its terminal state. It is idempotent and safe
// under concurrent use; signaling after the wait has resolved is a no-op.
func (s *CancellationSignal) Signal() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done returns the channel that is closed when the signal fires.
func (s *CancellationSignal) Done() <-chan struct{} {
	return s.done
}

// Signaled reports whether Signal has been called.
func (s *CancellationSignal) Signaled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
