package workspace

import (
	"context"
	"sync"
)

// Ref is a versioned cell with a single writer lock and any number of
// readers. Subscribers see the current value first and afterwards the latest
// value after each change; intermediate values may be skipped.
type Ref[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	subs    map[uint64]chan T
	nextSub uint64
}

// NewRef creates a cell holding initial.
func NewRef[T any](initial T) *Ref[T] {
	return &Ref[T]{
		value: initial,
		subs:  make(map[uint64]chan T),
	}
}

// Get returns the current value.
func (r *Ref[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Version returns the number of writes applied so far.
func (r *Ref[T]) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Set replaces the value and notifies subscribers.
func (r *Ref[T]) Set(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(value)
}

// Update atomically replaces the value with fn(current). When fn fails the
// cell is left untouched. fn runs under the cell lock and must not touch r.
func (r *Ref[T]) Update(fn func(T) (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(r.value)
	if err != nil {
		return r.value, err
	}
	r.publishLocked(next)
	return next, nil
}

func (r *Ref[T]) publishLocked(value T) {
	r.value = value
	r.version++
	for _, ch := range r.subs {
		// Keep only the latest value in each one-slot buffer.
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

// Subscribe returns a channel that yields the current value immediately and
// the latest value after each change. The channel is closed when ctx ends.
func (r *Ref[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.value
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, id)
		close(ch)
		r.mu.Unlock()
	}()

	return ch
}
