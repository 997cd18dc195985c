package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conneroisu/playground/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func newWatcher(t *testing.T) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher(logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Close() })
	return fw
}

func waitEvent(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}

func TestWatchReportsWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.ts")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	fw := newWatcher(t)
	ch, err := fw.Watch(context.Background(), file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("ab"), 0o644))
	ev := waitEvent(t, ch)
	assert.Equal(t, file, ev.Path)
}

func TestWatchIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.ts")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	fw := newWatcher(t)
	ch, err := fw.Watch(context.Background(), file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.ts"), []byte("x"), 0o644))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchFileCreatedLater(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tsconfig.json")

	fw := newWatcher(t)
	ch, err := fw.Watch(context.Background(), file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	ev := waitEvent(t, ch)
	assert.Equal(t, file, ev.Path)
}

func TestWatchCancelClosesChannel(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.ts")

	fw := newWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := fw.Watch(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, 1, fw.Subscribers())

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, fw.Subscribers())
}

func TestWatchRejectsRelativePaths(t *testing.T) {
	fw := newWatcher(t)
	_, err := fw.Watch(context.Background(), "relative/path.ts")
	assert.Error(t, err)
}

func TestWatchMissingParentFails(t *testing.T) {
	fw := newWatcher(t)
	_, err := fw.Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "a.ts"))
	assert.Error(t, err)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(logging.NewNop())
	require.NoError(t, err)

	ch, err := fw.Watch(context.Background(), filepath.Join(dir, "a.ts"))
	require.NoError(t, err)

	require.NoError(t, fw.Close())
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, err = fw.Watch(context.Background(), filepath.Join(dir, "b.ts"))
	assert.Error(t, err)
}
