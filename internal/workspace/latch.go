package workspace

import (
	"context"
	"sync"
)

// Latch is a write-once readiness signal. The first Fire releases every
// waiter; later fires are ignored.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch returns an unfired latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Fire releases all current and future waiters. It reports whether this
// call was the one that fired.
func (l *Latch) Fire() bool {
	fired := false
	l.once.Do(func() {
		close(l.done)
		fired = true
	})
	return fired
}

// Done is closed once the latch has fired.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Fired reports whether the latch has fired.
func (l *Latch) Fired() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch fires or ctx ends.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
