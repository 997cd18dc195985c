package editor

import (
	"context"
	"sync"
)

// changeQueue is an unbounded per-subscriber queue. Producers never block
// and nothing is dropped.
type changeQueue struct {
	mu     sync.Mutex
	items  []Change
	signal chan struct{}
	out    chan Change
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan Change),
	}
}

func (q *changeQueue) push(c Change) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *changeQueue) pop() (Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Change{}, false
	}
	c := q.items[0]
	q.items[0] = Change{}
	q.items = q.items[1:]
	return c, true
}

// pump delivers queued changes until ctx ends, then closes out.
func (q *changeQueue) pump(ctx context.Context, done <-chan struct{}) {
	defer close(q.out)
	for {
		c, ok := q.pop()
		if !ok {
			select {
			case <-q.signal:
				continue
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		select {
		case q.out <- c:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}
