package plugins

import (
	"context"
	"path"
	"sync"
	"testing"

	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/stretchr/testify/require"
)

// newHost mounts a workspace named W holding files into a memory sandbox.
func newHost(t *testing.T, files ...*workspace.Node) (*session.Handle, *sandbox.Memory) {
	t.Helper()
	ws := workspace.New("W", files)

	gw := sandbox.NewMemory()
	require.NoError(t, gw.Mount(context.Background(), ws.Tree(), ws.Root()))

	ed := editor.NewManager(theme.Dark, logging.NewNop())
	h := session.New(ws, gw, ed, session.Options{}, logging.NewNop())
	t.Cleanup(func() {
		_ = h.Close(context.Background())
		_ = ed.Close()
	})
	return h, gw
}

// runPlugin runs p against host until the test ends.
func runPlugin(t *testing.T, p Plugin, host Host) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- p.Run(ctx, host)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return done
}

func write(t *testing.T, gw *sandbox.Memory, p, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, gw.MakeDirectoryAll(ctx, path.Dir(p)))
	require.NoError(t, gw.WriteFile(ctx, p, []byte(content)))
}

// notifications records what the editor pushes to an attached surface.
type notifications struct {
	mu    sync.Mutex
	items []editor.Notification
}

func (n *notifications) SetModel(editor.Model, editor.ViewState) {}
func (n *notifications) SetTheme(string) {}
func (n *notifications) SetCompilerOptions(editor.CompilerOptions) {}
func (n *notifications) AddExtraLib(editor.ExtraLib) {}
func (n *notifications) Dispose() {}

func (n *notifications) Notify(note editor.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, note)
}

func (n *notifications) descriptions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.items))
	for _, item := range n.items {
		out = append(out, item.Description)
	}
	return out
}
