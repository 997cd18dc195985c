package sandbox

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/conneroisu/playground/internal/errors"
)

// ContentUpdate is one element of a WatchContent stream. Err is set when a
// read failed; the stream ends after an error.
type ContentUpdate struct {
	Content []byte
	Err     error
}

// WatchContent streams the content of path. The watch is established before
// the initial read, so the first element is the content at subscribe time and
// no change after it is missed. Consecutive identical contents are dropped.
// The channel is closed when ctx ends or after a read error.
func WatchContent(ctx context.Context, gw Gateway, path string) (<-chan ContentUpdate, error) {
	notifications, err := gw.Watch(ctx, path)
	if err != nil {
		return nil, errors.WrapIO(err, "watch", path)
	}

	out := make(chan ContentUpdate)
	go func() {
		defer close(out)

		var last uint64
		var emitted bool

		emit := func() bool {
			data, err := gw.ReadFile(ctx, path)
			if err != nil {
				select {
				case out <- ContentUpdate{Err: err}:
				case <-ctx.Done():
				}
				return false
			}
			sum := xxhash.Sum64(data)
			if emitted && sum == last {
				return true
			}
			last, emitted = sum, true
			select {
			case out <- ContentUpdate{Content: data}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notifications:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out, nil
}
