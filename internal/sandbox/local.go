package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/watcher"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// LocalOptions configures a Local sandbox.
type LocalOptions struct {
	// Parent is the host directory under which the sandbox root is created.
	// Empty uses the system temporary directory.
	Parent string
	// Shell is the shell binary for interactive and command processes.
	Shell string
}

// Local is a sandbox rooted at a private host directory. Processes run on
// the host with the sandbox root as working directory; the root is removed
// on Close.
type Local struct {
	root    string
	shell   string
	logger  logging.Logger
	watcher *watcher.FileWatcher

	mu        sync.Mutex
	processes map[*localProcess]struct{}
	closed    bool
}

// NewLocal creates a fresh sandbox root directory and its file watcher.
func NewLocal(opts LocalOptions, logger logging.Logger) (*Local, error) {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.Parent != "" {
		if err := os.MkdirAll(opts.Parent, 0o755); err != nil {
			return nil, errors.NewIOError("create sandbox parent", opts.Parent, err)
		}
	}

	root, err := os.MkdirTemp(opts.Parent, "playground-")
	if err != nil {
		return nil, errors.NewIOError("create sandbox root", opts.Parent, err)
	}

	fw, err := watcher.NewFileWatcher(logger)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, errors.NewIOError("create watcher", root, err)
	}

	return &Local{
		root:      root,
		shell:     opts.Shell,
		logger:    logger.WithComponent("sandbox"),
		watcher:   fw,
		processes: make(map[*localProcess]struct{}),
	}, nil
}

// Root returns the host directory backing the sandbox.
func (l *Local) Root() string {
	return l.root
}

// resolve maps a sandbox path onto the host. Cleaning against "/" keeps
// every result inside the root.
func (l *Local) resolve(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+p)))
}

// ShellPath implements Gateway.
func (l *Local) ShellPath(p string) string {
	return l.resolve(p)
}

func (l *Local) translate(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return errors.NewFileNotFoundError(p)
	case os.IsExist(err):
		return errors.NewFileAlreadyExistsError(p)
	default:
		return errors.NewIOError(op, p, err)
	}
}

// Mount implements Gateway. The tree is written into a hidden staging
// directory and renamed into place.
func (l *Local) Mount(ctx context.Context, tree []*workspace.Node, mountPoint string) error {
	staging := filepath.Join(l.root, ".mount-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return l.translate("mount", mountPoint, err)
	}
	defer os.RemoveAll(staging)

	if err := writeTree(ctx, staging, tree); err != nil {
		return errors.WrapIO(err, "mount", mountPoint)
	}

	target := l.resolve(mountPoint)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return l.translate("mount", mountPoint, err)
	}

	if _, err := os.Stat(target); os.IsNotExist(err) {
		return l.translate("mount", mountPoint, os.Rename(staging, target))
	}

	// Merge into an existing mount point entry by entry.
	entries, err := os.ReadDir(staging)
	if err != nil {
		return l.translate("mount", mountPoint, err)
	}
	for _, entry := range entries {
		dst := filepath.Join(target, entry.Name())
		if err := os.RemoveAll(dst); err != nil {
			return l.translate("mount", mountPoint, err)
		}
		if err := os.Rename(filepath.Join(staging, entry.Name()), dst); err != nil {
			return l.translate("mount", mountPoint, err)
		}
	}
	return nil
}

func writeTree(ctx context.Context, dir string, nodes []*workspace.Node) error {
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(dir, n.Name())
		if n.IsDirectory() {
			if err := os.Mkdir(p, 0o755); err != nil {
				return err
			}
			if err := writeTree(ctx, p, n.Children()); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(p, []byte(n.Content()), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// MountArchive implements Gateway.
func (l *Local) MountArchive(ctx context.Context, r io.Reader, mountPoint string) error {
	base := l.resolve(mountPoint)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return l.translate("mount archive", mountPoint, err)
	}

	err := walkArchive(r, func(entry archiveEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(base, filepath.FromSlash(entry.Name))
		if entry.IsDir {
			return os.MkdirAll(dst, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		mode := fs.FileMode(entry.Mode).Perm()
		if mode == 0 {
			mode = 0o644
		}
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, entry.Body); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	return errors.WrapIO(err, "mount archive", mountPoint)
}

// MakeDirectory implements Gateway.
func (l *Local) MakeDirectory(_ context.Context, p string) error {
	return l.translate("mkdir", p, os.Mkdir(l.resolve(p), 0o755))
}

// MakeDirectoryAll implements Gateway.
func (l *Local) MakeDirectoryAll(_ context.Context, p string) error {
	return l.translate("mkdir", p, os.MkdirAll(l.resolve(p), 0o755))
}

// ReadFile implements Gateway.
func (l *Local) ReadFile(_ context.Context, p string) ([]byte, error) {
	data, err := os.ReadFile(l.resolve(p))
	if err != nil {
		return nil, l.translate("read", p, err)
	}
	return data, nil
}

// WriteFile implements Gateway. The content is replaced atomically.
func (l *Local) WriteFile(_ context.Context, p string, data []byte) error {
	target := l.resolve(p)
	if info, err := os.Stat(filepath.Dir(target)); err != nil || !info.IsDir() {
		return errors.NewFileNotFoundError(p)
	}

	_, statErr := os.Stat(target)
	if err := atomic.WriteFile(target, bytes.NewReader(data)); err != nil {
		return errors.NewIOError("write", p, err)
	}
	if os.IsNotExist(statErr) {
		// Temporary files are created private; new sandbox files are not.
		_ = os.Chmod(target, 0o644)
	}
	return nil
}

// ReadDirectory implements Gateway.
func (l *Local) ReadDirectory(_ context.Context, p string) ([]Entry, error) {
	entries, err := os.ReadDir(l.resolve(p))
	if err != nil {
		return nil, l.translate("readdir", p, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

// Watch implements Gateway.
func (l *Local) Watch(ctx context.Context, p string) (<-chan struct{}, error) {
	events, err := l.watcher.Watch(ctx, l.resolve(p))
	if err != nil {
		return nil, errors.NewIOError("watch", p, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range events {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

// RemovePath implements Gateway.
func (l *Local) RemovePath(_ context.Context, p string, recursive bool) error {
	target := l.resolve(p)
	if target == l.root {
		return errors.NewIOError("remove", p, fmt.Errorf("refusing to remove the sandbox root"))
	}
	if _, err := os.Lstat(target); err != nil {
		return l.translate("remove", p, err)
	}
	if recursive {
		return l.translate("remove", p, os.RemoveAll(target))
	}
	return l.translate("remove", p, os.Remove(target))
}

// RenamePath implements Gateway.
func (l *Local) RenamePath(_ context.Context, oldPath, newPath string) error {
	src, dst := l.resolve(oldPath), l.resolve(newPath)
	if _, err := os.Lstat(src); err != nil {
		return l.translate("rename", oldPath, err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return errors.NewFileAlreadyExistsError(newPath)
	}
	return l.translate("rename", oldPath, os.Rename(src, dst))
}

// InstallExecutable implements Gateway.
func (l *Local) InstallExecutable(ctx context.Context, name string, script []byte) error {
	p := "/" + strings.TrimPrefix(name, "/")
	if err := l.WriteFile(ctx, p, script); err != nil {
		return err
	}
	return l.translate("chmod", p, os.Chmod(l.resolve(p), 0o755))
}

// env is the process environment: the sandbox root is on PATH so installed
// executables resolve by name.
func (l *Local) env(extra []string) []string {
	env := append([]string(nil), os.Environ()...)
	env = append(env,
		"PATH="+l.root+string(os.PathListSeparator)+os.Getenv("PATH"),
		"SANDBOX_ROOT="+l.root,
	)
	return append(env, extra...)
}

func (l *Local) track(p *localProcess) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.NewIOError("spawn", "", fmt.Errorf("sandbox closed"))
	}
	l.processes[p] = struct{}{}
	return nil
}

func (l *Local) untrack(p *localProcess) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.processes, p)
}

// Close kills every process, stops watching and removes the sandbox root.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	procs := make([]*localProcess, 0, len(l.processes))
	for p := range l.processes {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}

	var errs []error
	if err := l.watcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(l.root); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
