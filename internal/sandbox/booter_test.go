package sandbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBooterSingleSandbox(t *testing.T) {
	var booted []*Memory
	b := NewBooter(func(context.Context) (Gateway, error) {
		m := NewMemory()
		booted = append(booted, m)
		return m, nil
	})

	first, err := b.Boot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Boot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := b.Boot(context.Background())
	require.NoError(t, err)
	defer second.Release()

	require.Len(t, booted, 2)
	assert.NotSame(t, first.Gateway(), second.Gateway())
}

func TestBooterReleaseWakesWaiter(t *testing.T) {
	b := NewBooter(func(context.Context) (Gateway, error) { return NewMemory(), nil })

	first, err := b.Boot(context.Background())
	require.NoError(t, err)

	got := make(chan *Lease, 1)
	go func() {
		lease, err := b.Boot(context.Background())
		if err == nil {
			got <- lease
		}
	}()

	select {
	case <-got:
		t.Fatal("second boot did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release())
	select {
	case lease := <-got:
		require.NoError(t, lease.Release())
	case <-time.After(time.Second):
		t.Fatal("second boot never completed")
	}
}

func TestBooterFailure(t *testing.T) {
	calls := 0
	b := NewBooter(func(context.Context) (Gateway, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("no capacity")
		}
		return NewMemory(), nil
	})

	_, err := b.Boot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	lease, err := b.Boot(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}
