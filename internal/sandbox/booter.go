package sandbox

import (
	"context"
	"sync"

	"github.com/conneroisu/playground/internal/errors"
	"golang.org/x/sync/semaphore"
)

// Factory creates a fresh sandbox.
type Factory func(ctx context.Context) (Gateway, error)

// Booter hands out at most one live sandbox per process. A second Boot
// waits until the previous lease is released.
type Booter struct {
	factory Factory
	sem     *semaphore.Weighted
}

// NewBooter returns a Booter creating sandboxes with factory.
func NewBooter(factory Factory) *Booter {
	return &Booter{factory: factory, sem: semaphore.NewWeighted(1)}
}

// Lease owns a booted sandbox. Release tears it down and frees the slot.
type Lease struct {
	gw      Gateway
	release func()
	once    sync.Once
	err     error
}

// Gateway returns the leased sandbox.
func (l *Lease) Gateway() Gateway {
	return l.gw
}

// Release closes the sandbox. It is safe to call more than once.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.gw.Close()
		l.release()
	})
	return l.err
}

// Boot waits for the slot and creates a sandbox. Failures are reported as
// boot errors and leave the slot free.
func (b *Booter) Boot(ctx context.Context) (*Lease, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	gw, err := b.factory(ctx)
	if err != nil {
		b.sem.Release(1)
		return nil, errors.NewBootError("failed to boot sandbox", err)
	}
	return &Lease{gw: gw, release: func() { b.sem.Release(1) }}, nil
}
