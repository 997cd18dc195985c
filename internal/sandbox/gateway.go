// Package sandbox defines the filesystem and process capabilities the sync
// engine needs from an isolated execution environment, together with a
// host-directory implementation (Local), an in-memory implementation
// (Memory), the process-wide Booter and the snapshot fetcher.
//
// All paths are sandbox-absolute and slash separated, e.g.
// "/playground/src/main.ts".
package sandbox

import (
	"context"
	"io"

	"github.com/conneroisu/playground/internal/workspace"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// ShellOptions configures an interactive shell.
type ShellOptions struct {
	Cols int
	Rows int
	Env  []string
}

// Process is a scoped handle to a running process. Kill is idempotent and
// releases the process pipes and OS handle.
type Process interface {
	Input() io.Writer
	Output() io.Reader
	Exited() <-chan struct{}
	ExitCode() int
	Resize(cols, rows int) error
	Kill() error
}

// Gateway is the capability surface of a sandbox.
type Gateway interface {
	// Mount materialises tree at mountPoint. The tree becomes visible all
	// at once.
	Mount(ctx context.Context, tree []*workspace.Node, mountPoint string) error
	// MountArchive extracts a tar archive, optionally zstd compressed.
	MountArchive(ctx context.Context, r io.Reader, mountPoint string) error
	// MakeDirectory fails with FileAlreadyExistsError when path exists.
	MakeDirectory(ctx context.Context, path string) error
	MakeDirectoryAll(ctx context.Context, path string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile fails with FileNotFoundError when the parent is missing.
	WriteFile(ctx context.Context, path string, data []byte) error
	ReadDirectory(ctx context.Context, path string) ([]Entry, error)
	// Watch yields a notification after each change of path until ctx ends.
	// Notifications carry no payload and are coalesced.
	Watch(ctx context.Context, path string) (<-chan struct{}, error)
	RemovePath(ctx context.Context, path string, recursive bool) error
	RenamePath(ctx context.Context, oldPath, newPath string) error
	SpawnShell(ctx context.Context, opts ShellOptions) (Process, error)
	SpawnCommand(ctx context.Context, command string) (Process, error)
	// InstallExecutable writes script at the sandbox root and marks it
	// executable.
	InstallExecutable(ctx context.Context, name string, script []byte) error
	// ShellPath translates a sandbox path into the form processes see.
	ShellPath(path string) string
	Close() error
}

// Run executes command and waits for it to exit, copying its output to out
// when out is non-nil. A non-zero exit code is not an error.
func Run(ctx context.Context, gw Gateway, command string, out io.Writer) (int, error) {
	proc, err := gw.SpawnCommand(ctx, command)
	if err != nil {
		return -1, err
	}
	defer proc.Kill()

	if out == nil {
		out = io.Discard
	}
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(out, proc.Output())
	}()

	select {
	case <-proc.Exited():
		<-copied
		return proc.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// RunInWorkspace runs command from the workspace root.
func RunInWorkspace(ctx context.Context, gw Gateway, ws workspace.Workspace, command string, out io.Writer) (int, error) {
	return Run(ctx, gw, CdCommand(gw, ws.Root())+" && "+command, out)
}

// CdCommand returns a shell command changing into the sandbox path dir.
func CdCommand(gw Gateway, dir string) string {
	return `cd "` + gw.ShellPath(dir) + `"`
}
