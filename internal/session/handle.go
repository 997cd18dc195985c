// Package session holds the live state of one playground session: the
// workspace cell bound to a mounted sandbox, the selected file, the ready
// latch and the terminals.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/terminal"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
)

// Options configures a Handle.
type Options struct {
	Appearance theme.Appearance
	Terminal   terminal.Options
}

// Handle is the live projection of a workspace. Structural mutations and
// sync writes are serialised by one mutex and replace the workspace value
// atomically; readers always see a complete snapshot.
type Handle struct {
	gw        sandbox.Gateway
	editor    *editor.Manager
	terminals *terminal.Manager
	ready     *workspace.Latch
	logger    logging.Logger

	mu         sync.Mutex
	workspace  *workspace.Ref[workspace.Workspace]
	selected   *workspace.Ref[*workspace.Node]
	appearance *workspace.Ref[theme.Appearance]

	closeOnce sync.Once
	closeErr  error
}

// New binds ws to gw. The workspace is expected to be mounted at ws.Root()
// by the caller.
func New(ws workspace.Workspace, gw sandbox.Gateway, ed *editor.Manager, opts Options, logger logging.Logger) *Handle {
	if opts.Appearance == "" {
		opts.Appearance = theme.Dark
	}
	ready := workspace.NewLatch()
	h := &Handle{
		gw:         gw,
		editor:     ed,
		ready:      ready,
		logger:     logger.WithComponent("session").With("workspace", ws.Name()),
		workspace:  workspace.NewRef(ws),
		selected:   workspace.NewRef[*workspace.Node](nil),
		appearance: workspace.NewRef(opts.Appearance),
	}
	h.terminals = terminal.NewManager(gw, ws.Root(), ready, opts.Appearance, opts.Terminal, logger)

	if initial := ws.InitialFile(); initial != "" {
		if node, err := ws.Resolve(initial); err == nil && node.IsFile() {
			h.selected.Set(node)
		}
	}
	return h
}

// Gateway returns the sandbox the workspace is mounted in.
func (h *Handle) Gateway() sandbox.Gateway { return h.gw }

// Editor returns the editor buffer manager.
func (h *Handle) Editor() *editor.Manager { return h.editor }

// Terminals returns the terminal manager.
func (h *Handle) Terminals() *terminal.Manager { return h.terminals }

// Ready is fired once provisioning completed.
func (h *Handle) Ready() *workspace.Latch { return h.ready }

// Workspace returns the current workspace snapshot.
func (h *Handle) Workspace() workspace.Workspace {
	return h.workspace.Get()
}

// Subscribe streams workspace snapshots, starting with the current one.
func (h *Handle) Subscribe(ctx context.Context) <-chan workspace.Workspace {
	return h.workspace.Subscribe(ctx)
}

// Selected returns the selected file, or nil.
func (h *Handle) Selected() *workspace.Node {
	return h.selected.Get()
}

// Selections streams the selected file, starting with the current one.
func (h *Handle) Selections(ctx context.Context) <-chan *workspace.Node {
	return h.selected.Subscribe(ctx)
}

// Select makes node the selected file. A nil node clears the selection.
func (h *Handle) Select(node *workspace.Node) error {
	if node == nil {
		h.selected.Set(nil)
		return nil
	}
	current, ok := h.Workspace().Lookup(node.ID())
	if !ok {
		return errors.NewFileNotFoundError(node.Name())
	}
	if !current.IsFile() {
		return errors.NewValidationError(errors.ReasonUnsupportedType,
			fmt.Sprintf("%s is a directory", current.Name()))
	}
	h.selected.Set(current)
	return nil
}

// SelectPath selects the file at the workspace relative path p.
func (h *Handle) SelectPath(p string) (*workspace.Node, error) {
	node, err := h.Workspace().Resolve(p)
	if err != nil {
		return nil, err
	}
	if err := h.Select(node); err != nil {
		return nil, err
	}
	return node, nil
}

// Appearance returns the current appearance.
func (h *Handle) Appearance() theme.Appearance {
	return h.appearance.Get()
}

// Appearances streams the appearance, starting with the current one.
func (h *Handle) Appearances(ctx context.Context) <-chan theme.Appearance {
	return h.appearance.Subscribe(ctx)
}

// SetTheme changes the appearance of the session.
func (h *Handle) SetTheme(a theme.Appearance) {
	h.appearance.Set(a)
}

// CreateFile creates a file or directory called name under parent, or at
// the root when parent is nil. The name is validated before any I/O, so an
// invalid name leaves both the tree and the sandbox untouched. A created
// file becomes the selection.
func (h *Handle) CreateFile(ctx context.Context, name string, kind workspace.Kind, parent *workspace.Node) (*workspace.Node, error) {
	normalized, err := workspace.ValidateName(name, kind)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	ws := h.workspace.Get()
	if parent != nil {
		if _, err := ws.ChildrenOf(parent); err != nil {
			h.mu.Unlock()
			return nil, err
		}
	}
	if ws.HasChild(parent, normalized) {
		h.mu.Unlock()
		return nil, errors.NewFileAlreadyExistsError(normalized)
	}

	dir := ws.Root()
	if parent != nil {
		if dir, err = ws.FullPathTo(parent); err != nil {
			h.mu.Unlock()
			return nil, err
		}
	}
	full := dir + "/" + normalized

	var node *workspace.Node
	if kind == workspace.KindFile {
		node = workspace.NewFile(normalized, "").AsUserManaged()
		err = h.editor.WriteFile(ctx, h.gw, full, "", node.Language())
	} else {
		node = workspace.NewDirectory(normalized).AsUserManaged()
		err = h.gw.MakeDirectory(ctx, full)
	}
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}

	_, err = h.workspace.Update(func(ws workspace.Workspace) (workspace.Workspace, error) {
		return ws.Insert(parent, node)
	})
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h.logger.Info(ctx, "Created node", "path", full, "kind", kind.String())
	if node.IsFile() {
		h.selected.Set(node)
	}
	return node, nil
}

// RenameFile renames node in the tree and the sandbox. Identity is kept, so
// a selected node stays selected under its new name.
func (h *Handle) RenameFile(ctx context.Context, node *workspace.Node, name string) (*workspace.Node, error) {
	h.mu.Lock()
	ws := h.workspace.Get()
	oldPath, err := ws.FullPathTo(node)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	next, renamed, err := ws.Rename(node, name)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	newPath, err := next.FullPathTo(renamed)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if err := h.gw.RenamePath(ctx, oldPath, newPath); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.workspace.Set(next)
	h.editor.Rename(oldPath, newPath)
	h.mu.Unlock()

	if sel := h.selected.Get(); sel != nil && sel.ID() == renamed.ID() {
		h.selected.Set(renamed)
	}
	h.logger.Info(ctx, "Renamed node", "from", oldPath, "to", newPath)
	return renamed, nil
}

// RemoveFile removes node from the tree and deletes its path from the
// sandbox. A selection inside the removed subtree is cleared.
func (h *Handle) RemoveFile(ctx context.Context, node *workspace.Node) error {
	h.mu.Lock()
	ws := h.workspace.Get()
	full, err := ws.FullPathTo(node)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	current, _ := ws.Lookup(node.ID())
	next, err := ws.RemoveNode(current)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.workspace.Set(next)
	err = h.gw.RemovePath(ctx, full, current.IsDirectory())
	h.mu.Unlock()

	if sel := h.selected.Get(); sel != nil {
		if _, ok := next.Lookup(sel.ID()); !ok {
			h.selected.Set(nil)
		}
	}
	h.editor.Forget(full)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	h.logger.Info(ctx, "Removed node", "path", full)
	return nil
}

// FullPath resolves the current sandbox path of node.
func (h *Handle) FullPath(node *workspace.Node) (string, error) {
	return h.workspace.Get().FullPathTo(node)
}

// ReadFile reads the sandbox content of node.
func (h *Handle) ReadFile(ctx context.Context, node *workspace.Node) ([]byte, error) {
	full, err := h.FullPath(node)
	if err != nil {
		return nil, err
	}
	return h.gw.ReadFile(ctx, full)
}

// WatchFile streams the sandbox content of node, starting with the current
// content.
func (h *Handle) WatchFile(ctx context.Context, node *workspace.Node) (<-chan sandbox.ContentUpdate, error) {
	full, err := h.FullPath(node)
	if err != nil {
		return nil, err
	}
	return sandbox.WatchContent(ctx, h.gw, full)
}

// WriteSynced writes content for node at its current path. The node is
// resolved under the structural lock, so a write never resurrects a removed
// node; it fails with FileNotFoundError instead. Only the sandbox is
// written: the buffer may already hold newer edits.
func (h *Handle) WriteSynced(ctx context.Context, node *workspace.Node, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws := h.workspace.Get()
	current, ok := ws.Lookup(node.ID())
	if !ok {
		return errors.NewFileNotFoundError(node.Name())
	}
	full, err := ws.FullPathTo(current)
	if err != nil {
		return err
	}
	return h.gw.WriteFile(ctx, full, []byte(content))
}

// MakeTerminal opens a terminal for shell in view.
func (h *Handle) MakeTerminal(ctx context.Context, shell workspace.Shell, view terminal.View) (*terminal.Terminal, error) {
	return h.terminals.MakeTerminal(ctx, shell, view)
}

// Close closes every terminal and removes the mounted workspace from the
// sandbox.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		var errs []error
		if err := h.terminals.Close(); err != nil {
			errs = append(errs, err)
		}
		root := h.workspace.Get().Root()
		if err := h.gw.RemovePath(ctx, root, true); err != nil && !errors.IsNotFound(err) {
			errs = append(errs, err)
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}
