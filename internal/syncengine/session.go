package syncengine

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/conneroisu/playground/internal/debounce"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
	"github.com/conneroisu/playground/internal/workspace"
)

// syncFile runs sessions for node until ctx ends or the node is gone.
// Failed sessions restart after a constant delay, without limit.
func (e *Engine) syncFile(ctx context.Context, node *workspace.Node) {
	logger := e.logger.With("file", node.Name())
	policy := backoff.WithContext(backoff.NewConstantBackOff(e.opts.RetryBackoff), ctx)

	err := backoff.RetryNotify(func() error {
		err := e.runSession(ctx, node, logger)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if errors.IsFatal(err) {
			return backoff.Permanent(err)
		}
		if _, ok := e.handle.Workspace().Lookup(node.ID()); !ok {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.RecordSyncRestart("retry")
		logger.Warn(ctx, err, "Sync session failed, restarting", "backoff", wait)
	})
	if err != nil && ctx.Err() == nil {
		logger.Info(ctx, "Sync session ended", "reason", err.Error())
	}
}

// fileSession is the state of one run of the per-file pipeline. It is owned
// by a single goroutine, so writes for the file are strictly ordered.
type fileSession struct {
	engine     *Engine
	node       *workspace.Node
	path       string
	lastSynced string
	logger     logging.Logger
}

// runSession loads node into the editor and mirrors it in both directions
// until ctx ends or a stream fails. A final flush always runs on the way out.
func (e *Engine) runSession(ctx context.Context, node *workspace.Node, logger logging.Logger) error {
	ed := e.handle.Editor()
	full, err := e.handle.FullPath(node)
	if err != nil {
		return err
	}

	// Subscribe before loading so no edit after the load is missed. Load
	// and reload emissions are filtered out below.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes := ed.Changes(sctx)

	model, err := ed.ReadFile(sctx, e.handle.Gateway(), full)
	if err != nil {
		return errors.WrapIO(err, "read", full)
	}
	updates, err := e.handle.WatchFile(sctx, node)
	if err != nil {
		return err
	}

	s := &fileSession{
		engine:     e,
		node:       node,
		path:       full,
		lastSynced: model.Content,
		logger:     logger,
	}
	deb := debounce.New[string](e.opts.Debounce)
	defer s.flush(ctx, deb)

	logger.Debug(ctx, "Sync session started", "path", full)
	for {
		select {
		case <-sctx.Done():
			return nil

		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if change.Path != full || !change.Origin.Local() {
				continue
			}
			deb.Trigger(change.Content)

		case content := <-deb.C():
			if err := s.write(sctx, content, metrics.WriteDebounced); err != nil {
				return err
			}

		case update, ok := <-updates:
			if !ok {
				if sctx.Err() != nil {
					return nil
				}
				return errors.NewIOError("watch", full, errors.New("watch stream closed"))
			}
			if update.Err != nil {
				return errors.WrapIO(update.Err, "watch", full)
			}
			if err := s.reload(sctx, string(update.Content), deb.Pending()); err != nil {
				return err
			}
		}
	}
}

func (s *fileSession) write(ctx context.Context, content, reason string) error {
	if err := s.engine.handle.WriteSynced(ctx, s.node, content); err != nil {
		return err
	}
	s.lastSynced = content
	metrics.RecordSyncWrite(reason)
	s.logger.Debug(ctx, "Wrote buffer", "path", s.path, "reason", reason, "bytes", len(content))
	return nil
}

// reload applies an external change to the buffer. Changes that only echo
// our own writes, or that arrive while an edit is waiting to be written,
// are ignored.
func (s *fileSession) reload(ctx context.Context, content string, pending bool) error {
	if content == s.lastSynced || pending {
		return nil
	}
	changed, err := s.engine.handle.Editor().Reload(s.path, content)
	if err != nil {
		return err
	}
	s.lastSynced = content
	if changed {
		metrics.RecordSyncReload()
		s.logger.Debug(ctx, "Reloaded buffer from sandbox", "path", s.path)
	}
	return nil
}

// flush writes the buffer once more when it holds unsynced, non-blank
// content. It runs on a context detached from the session so that switching
// files never drops an edit. A node removed meanwhile is not recreated.
func (s *fileSession) flush(ctx context.Context, deb *debounce.Debouncer[string]) {
	deb.Stop()

	// A rename moves the buffer along with the node.
	path, err := s.engine.handle.FullPath(s.node)
	if err != nil {
		s.logger.Debug(ctx, "Skipped flush of removed file", "path", s.path)
		return
	}
	model, ok := s.engine.handle.Editor().Model(path)
	if !ok && path != s.path {
		model, ok = s.engine.handle.Editor().Model(s.path)
	}
	if !ok {
		return
	}
	content := model.Content
	if content == s.lastSynced || strings.TrimSpace(content) == "" {
		return
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.engine.opts.FlushTimeout)
	defer cancel()
	if err := s.write(fctx, content, metrics.WriteFlush); err != nil {
		if errors.IsNotFound(err) {
			s.logger.Debug(ctx, "Skipped flush of removed file", "path", s.path)
			return
		}
		s.logger.Warn(ctx, err, "Final flush failed", "path", s.path)
	}
}
