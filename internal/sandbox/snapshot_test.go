package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotURL(t *testing.T) {
	f := NewSnapshotFetcher("https://example.com/", nil, logging.NewNop())
	assert.Equal(t, "https://example.com/snapshots/snapshot-0", f.URL("snapshot-0"))
	assert.Equal(t, "https://example.com/snapshots/a%2Fb", f.URL("a/b"))
}

func TestMountSnapshots(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()
		name := r.URL.Path[len("/snapshots/"):]
		_, _ = w.Write(buildTar(t, []tarFile{{name: "v3/" + name, body: name}}))
	}))
	defer srv.Close()

	m := NewMemory()
	f := NewSnapshotFetcher(srv.URL, srv.Client(), logging.NewNop())
	ctx := context.Background()

	require.NoError(t, f.MountSnapshots(ctx, m, []string{"snapshot-0", "snapshot-1"}, "/.pnpm-store"))
	assert.ElementsMatch(t, []string{"/snapshots/snapshot-0", "/snapshots/snapshot-1"}, requested)

	data, err := m.ReadFile(ctx, "/.pnpm-store/v3/snapshot-1")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-1", string(data))
}

func TestMountSnapshotsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewSnapshotFetcher(srv.URL, srv.Client(), logging.NewNop())
	err := f.MountSnapshots(context.Background(), NewMemory(), []string{"snapshot-0"}, "/.pnpm-store")
	require.Error(t, err)

	var pe *errors.PlaygroundError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, errors.ErrorTypeNetwork, pe.Type)
}

func TestMountSnapshotsEmpty(t *testing.T) {
	m := NewMemory()
	f := NewSnapshotFetcher("http://unused", nil, logging.NewNop())
	require.NoError(t, f.MountSnapshots(context.Background(), m, nil, "/.pnpm-store"))
	assert.False(t, m.Exists("/.pnpm-store"))
}
