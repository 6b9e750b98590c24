package phx

import (
	"context"
	"sync"
)

// Signal is a one-shot broadcast: once fired, every current and future waiter is released.
// It never resets.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal returns an unfired Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire releases all waiters. It returns true only for the call that fired the signal.
func (signal *Signal) Fire() bool {
	fired := false
	signal.once.Do(func() {
		close(signal.done)
		fired = true
	})
	return fired
}

// Fired reports whether the signal has been fired.
func (signal *Signal) Fired() bool {
	select {
	case <-signal.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal fires.
func (signal *Signal) Done() <-chan struct{} { return signal.done }

// Wait blocks until the signal fires or ctx is done.
func (signal *Signal) Wait(ctx context.Context) error {
	if signal.Fired() {
		return nil
	}
	select {
	case <-signal.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
