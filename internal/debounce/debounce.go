// Package debounce coalesces bursts of values into the last one of the
// burst, delivered once the input has been quiet for a fixed delay.
package debounce

import (
	"sync"
	"time"
)

// Debouncer keeps the most recent triggered value and delivers it on C after
// delay has passed without another Trigger. Each Trigger resets the timer
// rather than queuing a second delivery.
type Debouncer[T any] struct {
	delay      time.Duration
	output     chan T
	timer      *time.Timer
	pending    T
	hasPending bool
	generation uint64
	mutex      sync.Mutex
}

// New creates a Debouncer with the given quiet period.
func New[T any](delay time.Duration) *Debouncer[T] {
	return &Debouncer[T]{
		delay:  delay,
		output: make(chan T, 1),
	}
}

// C delivers debounced values. At most one value is buffered; an undelivered
// value is replaced by a newer one.
func (d *Debouncer[T]) C() <-chan T {
	return d.output
}

// Trigger records value and restarts the quiet period.
func (d *Debouncer[T]) Trigger(value T) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = value
	d.hasPending = true
	d.generation++

	if d.timer != nil {
		d.timer.Stop()
	}

	gen := d.generation
	d.timer = time.AfterFunc(d.delay, func() {
		d.fire(gen)
	})
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// A timer that was reset after it started running is stale.
	if gen != d.generation || !d.hasPending {
		return
	}

	value := d.pending
	d.clearLocked()

	select {
	case <-d.output:
	default:
	}
	d.output <- value
}

// Pending reports whether a value is waiting for its quiet period or sits
// undelivered on C.
func (d *Debouncer[T]) Pending() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.hasPending || len(d.output) > 0
}

// Flush cancels the timer and returns the newest value not yet received
// from C, if any. After Flush nothing further is delivered for earlier
// triggers.
func (d *Debouncer[T]) Flush() (T, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++

	if d.hasPending {
		value := d.pending
		d.clearLocked()
		d.drainLocked()
		return value, true
	}

	select {
	case value := <-d.output:
		return value, true
	default:
		var zero T
		return zero, false
	}
}

// Stop cancels any pending delivery and discards buffered values.
func (d *Debouncer[T]) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	d.clearLocked()
	d.drainLocked()
}

func (d *Debouncer[T]) clearLocked() {
	var zero T
	d.pending = zero
	d.hasPending = false
}

func (d *Debouncer[T]) drainLocked() {
	select {
	case <-d.output:
	default:
	}
}
