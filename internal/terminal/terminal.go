// Package terminal runs interactive shells inside the sandbox and connects
// them to terminal views once the workspace is ready.
package terminal

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/playground/internal/debounce"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
)

// LoadingMessage is shown until the workspace is ready.
const LoadingMessage = "Loading workspace...\n"

// View is the terminal widget a shell is rendered into.
type View interface {
	Write(p []byte) (int, error)
	// OnData registers the callback receiving user keystrokes.
	OnData(fn func(data []byte))
	Size() (cols, rows int)
	SetTheme(p theme.Palette)
}

// Options tunes terminal timing.
type Options struct {
	// ResizeDebounce is the quiet period before a size change is applied.
	ResizeDebounce time.Duration
	// CommandDelay is waited after readiness before a shell command is sent.
	CommandDelay time.Duration
}

// Manager owns every terminal of one workspace.
type Manager struct {
	gw     sandbox.Gateway
	dir    string
	ready  *workspace.Latch
	opts   Options
	logger logging.Logger

	sizeVersion atomic.Uint64
	resize      *debounce.Debouncer[uint64]

	mu        sync.Mutex
	terminals map[*Terminal]struct{}
	palette   theme.Palette
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a Manager spawning shells in gw that start in dir and
// connect once ready fires.
func NewManager(gw sandbox.Gateway, dir string, ready *workspace.Latch, appearance theme.Appearance, opts Options, logger logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		gw:        gw,
		dir:       dir,
		ready:     ready,
		opts:      opts,
		logger:    logger.WithComponent("terminal"),
		resize:    debounce.New[uint64](opts.ResizeDebounce),
		terminals: make(map[*Terminal]struct{}),
		palette:   theme.TerminalPalette(appearance),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go m.resizeLoop()
	return m
}

// MakeTerminal spawns shell and renders it into view. The shell is
// connected to the view once the workspace is ready; shell.Command, if set,
// is only sent after that.
func (m *Manager) MakeTerminal(ctx context.Context, shell workspace.Shell, view View) (*Terminal, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewInternalError("terminal manager closed", nil)
	}
	palette := m.palette
	m.mu.Unlock()

	cols, rows := view.Size()
	proc, err := m.gw.SpawnShell(ctx, sandbox.ShellOptions{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	view.SetTheme(palette)
	_, _ = view.Write([]byte(LoadingMessage))

	tctx, cancel := context.WithCancel(m.ctx)
	t := &Terminal{
		shell:   shell,
		view:    view,
		proc:    proc,
		manager: m,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  m.logger.With("shell", shell.Name),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = proc.Kill()
		return nil, errors.NewInternalError("terminal manager closed", nil)
	}
	m.terminals[t] = struct{}{}
	m.mu.Unlock()
	metrics.TerminalOpened()

	go t.run(tctx)
	return t, nil
}

// NotifyResize records that terminal views may have changed size. Sizes are
// applied once the notifications have been quiet for the debounce period.
func (m *Manager) NotifyResize() {
	m.resize.Trigger(m.sizeVersion.Add(1))
}

// SizeVersion returns the number of resize notifications so far.
func (m *Manager) SizeVersion() uint64 {
	return m.sizeVersion.Load()
}

func (m *Manager) resizeLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.resize.C():
			for _, t := range m.snapshot() {
				t.applySize()
			}
		}
	}
}

// SetTheme applies the palette for appearance to every open terminal.
func (m *Manager) SetTheme(appearance theme.Appearance) {
	palette := theme.TerminalPalette(appearance)
	m.mu.Lock()
	m.palette = palette
	m.mu.Unlock()

	for _, t := range m.snapshot() {
		t.view.SetTheme(palette)
	}
}

// Terminals returns the open terminals.
func (m *Manager) Terminals() []*Terminal {
	return m.snapshot()
}

func (m *Manager) snapshot() []*Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Terminal, 0, len(m.terminals))
	for t := range m.terminals {
		out = append(out, t)
	}
	return out
}

func (m *Manager) forget(t *Terminal) {
	m.mu.Lock()
	_, ok := m.terminals[t]
	delete(m.terminals, t)
	m.mu.Unlock()
	if ok {
		metrics.TerminalClosed()
	}
}

// Close closes every terminal and stops resize handling.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, t := range m.snapshot() {
		_ = t.Close()
	}
	m.cancel()
	m.resize.Stop()
	<-m.done
	return nil
}

// Terminal is one shell connected to one view.
type Terminal struct {
	shell   workspace.Shell
	view    View
	proc    sandbox.Process
	manager *Manager
	logger  logging.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	closeOnce sync.Once
}

// Shell returns the shell description the terminal was made for.
func (t *Terminal) Shell() workspace.Shell {
	return t.shell
}

// Connected reports whether the shell is wired to the view.
func (t *Terminal) Connected() bool {
	return t.connected.Load()
}

// Done is closed once the terminal has been closed or its shell exited.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

func (t *Terminal) run(ctx context.Context) {
	defer close(t.done)
	defer func() {
		select {
		case <-t.proc.Exited():
			t.manager.forget(t)
		default:
		}
	}()

	input := t.proc.Input()
	cd := sandbox.CdCommand(t.manager.gw, t.manager.dir) + " && clear\n"
	if _, err := io.WriteString(input, cd); err != nil {
		t.logger.Warn(ctx, err, "Failed to enter workspace")
	}

	select {
	case <-t.manager.ready.Done():
	case <-ctx.Done():
		return
	case <-t.proc.Exited():
		return
	}

	if t.shell.Command != "" && t.manager.opts.CommandDelay > 0 {
		select {
		case <-time.After(t.manager.opts.CommandDelay):
		case <-ctx.Done():
			return
		}
	}

	t.connect()
	if t.shell.Command != "" {
		if _, err := io.WriteString(input, t.shell.Command+"\n"); err != nil {
			t.logger.Warn(ctx, err, "Failed to send shell command", "command", t.shell.Command)
		}
	}

	select {
	case <-ctx.Done():
	case <-t.proc.Exited():
		t.logger.Debug(ctx, "Shell exited", "code", t.proc.ExitCode())
	}
}

func (t *Terminal) connect() {
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := t.proc.Output().Read(buf)
			if n > 0 {
				_, _ = t.view.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	input := t.proc.Input()
	t.view.OnData(func(data []byte) {
		_, _ = input.Write(data)
	})
	t.connected.Store(true)
}

func (t *Terminal) applySize() {
	cols, rows := t.view.Size()
	if err := t.proc.Resize(cols, rows); err != nil {
		t.logger.Warn(context.Background(), err, "Failed to resize terminal", "cols", cols, "rows", rows)
		return
	}
	metrics.RecordTerminalResize()
}

// Close kills the shell. It is safe to call more than once.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		_ = t.proc.Kill()
		<-t.done
		t.manager.forget(t)
	})
	return nil
}
