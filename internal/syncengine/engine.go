// Package syncengine keeps a mounted workspace, the editor buffer and the
// sandbox filesystem consistent. It mounts the tree, provisions the sandbox
// in the background, runs one sync session for the selected file at a time
// and forwards theme changes to the editor and terminals.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/plugins"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/workspace"
)

// Options tunes the engine timings.
type Options struct {
	// Debounce is the quiet period before an edit is written to the sandbox.
	Debounce time.Duration
	// RetryBackoff is the constant delay before a failed session restarts.
	RetryBackoff time.Duration
	// FlushTimeout bounds the final write of a session.
	FlushTimeout time.Duration
	// StoreDir is the workspace relative package store directory.
	StoreDir string
}

// OptionsFromConfig reads the sync and provision sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Debounce:     cfg.Sync.Debounce,
		RetryBackoff: cfg.Sync.RetryBackoff,
		FlushTimeout: cfg.Sync.FlushTimeout,
		StoreDir:     cfg.Provision.StoreDir,
	}
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = config.DefaultDebounce
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = config.DefaultRetryBackoff
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = config.DefaultFlushTimeout
	}
	if o.StoreDir == "" {
		o.StoreDir = config.DefaultStoreDir
	}
	return o
}

// Engine drives one playground session.
type Engine struct {
	handle     *session.Handle
	snapshots  *sandbox.SnapshotFetcher
	supervisor *plugins.Supervisor
	opts       Options
	logger     logging.Logger

	provisioned  chan struct{}
	provisionErr error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an engine for handle. snapshots and supervisor may be nil.
func New(handle *session.Handle, snapshots *sandbox.SnapshotFetcher, supervisor *plugins.Supervisor, opts Options, logger logging.Logger) *Engine {
	return &Engine{
		handle:      handle,
		snapshots:   snapshots,
		supervisor:  supervisor,
		opts:        opts.withDefaults(),
		logger:      logger.WithComponent("sync").With("workspace", handle.Workspace().Name()),
		provisioned: make(chan struct{}),
	}
}

// Mount writes the workspace tree into the sandbox at its root and makes
// sure every directory exists. It is safe to call on an already mounted
// workspace.
func (e *Engine) Mount(ctx context.Context) error {
	ws := e.handle.Workspace()
	gw := e.handle.Gateway()

	if err := gw.Mount(ctx, ws.Tree(), ws.Root()); err != nil {
		return errors.WrapIO(err, "mount", ws.Root())
	}
	err := ws.Walk(func(n *workspace.Node, p string) error {
		if !n.IsDirectory() {
			return nil
		}
		if err := gw.MakeDirectory(ctx, ws.RelativePath(p)); err != nil && !errors.IsAlreadyExists(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info(ctx, "Mounted workspace", "root", ws.Root())
	return nil
}

// Start launches provisioning, the selection loop and the theme loop. Plugins
// start once provisioning has finished, whether it succeeded or not. Start
// returns immediately; Close stops everything.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.NewInternalError("sync engine already started", nil)
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.provisionErr = e.Provision(ctx)
		close(e.provisioned)
		if e.supervisor != nil && ctx.Err() == nil {
			e.supervisor.Start(ctx, e.handle)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.selectionLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.themeLoop(ctx)
	}()
	return nil
}

// Provisioned is closed once background provisioning has finished.
func (e *Engine) Provisioned() <-chan struct{} {
	return e.provisioned
}

// ProvisionErr returns the provisioning failure, if any. It is only
// meaningful after Provisioned is closed.
func (e *Engine) ProvisionErr() error {
	select {
	case <-e.provisioned:
		return e.provisionErr
	default:
		return nil
	}
}

// Close cancels every loop, waits for the active session to flush and stops
// the plugins.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	var errs []error
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if e.supervisor != nil {
		if err := e.supervisor.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// selectionLoop keeps exactly one session alive for the selected file. The
// previous session is cancelled and awaited, including its final flush,
// before the next one starts.
func (e *Engine) selectionLoop(ctx context.Context) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		<-done
		cancel, done = nil, nil
	}
	defer stop()

	for node := range e.handle.Selections(ctx) {
		stop()
		if node == nil {
			continue
		}
		sctx, c := context.WithCancel(ctx)
		d := make(chan struct{})
		cancel, done = c, d
		go func() {
			defer close(d)
			e.syncFile(sctx, node)
		}()
	}
}

func (e *Engine) themeLoop(ctx context.Context) {
	for appearance := range e.handle.Appearances(ctx) {
		e.handle.Editor().SetTheme(appearance)
		e.handle.Terminals().SetTheme(appearance)
		e.logger.Debug(ctx, "Applied theme", "appearance", appearance)
	}
}
