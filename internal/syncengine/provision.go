package syncengine

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
	"github.com/conneroisu/playground/internal/sandbox"
)

// NpmrcFile is the package manager configuration written into the workspace.
const NpmrcFile = ".npmrc"

// Provision seeds the package store, writes the package manager config,
// installs helper executables and runs the prepare command. The ready latch
// fires when all of that completed; a non-zero prepare exit code is logged
// and does not hold it back. On failure the latch is left untouched.
func (e *Engine) Provision(ctx context.Context) error {
	op := logging.StartOperation(e.logger, "provision")
	start := time.Now()

	err := e.provision(ctx)
	metrics.RecordProvision(err == nil, time.Since(start))
	if err != nil {
		op.EndWithError(ctx, err)
		if ctx.Err() == nil {
			e.logger.Error(ctx, err, "Provisioning failed; terminals stay gated")
		}
		return err
	}
	op.End(ctx)

	e.handle.Ready().Fire()
	e.logger.Info(ctx, "Workspace ready")
	return nil
}

func (e *Engine) provision(ctx context.Context) error {
	ws := e.handle.Workspace()
	gw := e.handle.Gateway()
	store := ws.RelativePath(e.opts.StoreDir)

	if snapshots := ws.Snapshots(); len(snapshots) > 0 {
		if e.snapshots == nil {
			e.logger.Warn(ctx, nil, "No snapshot source configured, skipping snapshots", "snapshots", snapshots)
		} else if err := e.snapshots.MountSnapshots(ctx, gw, snapshots, store); err != nil {
			return errors.WrapIO(err, "snapshot", store)
		}
	}

	npmrc := ws.RelativePath(NpmrcFile)
	if err := gw.WriteFile(ctx, npmrc, []byte("store-dir="+e.opts.StoreDir+"\n")); err != nil {
		return errors.WrapIO(err, "write", npmrc)
	}

	for _, exe := range ws.Executables() {
		if err := gw.InstallExecutable(ctx, exe.Name, []byte(exe.Script)); err != nil {
			return errors.WrapIO(err, "install", exe.Name)
		}
		e.logger.Debug(ctx, "Installed executable", "name", exe.Name)
	}

	command := ws.Prepare()
	if command == "" {
		return nil
	}
	var out bytes.Buffer
	code, err := sandbox.RunInWorkspace(ctx, gw, ws, command, &out)
	if err != nil {
		return errors.WrapIO(err, "prepare", command)
	}
	metrics.SetPrepareExitCode(ws.Name(), code)
	if code != 0 {
		e.logger.Warn(ctx, nil, "Prepare command failed",
			"command", command,
			"exit_code", code,
			"output", strings.TrimSpace(out.String()))
		return nil
	}
	e.logger.Info(ctx, "Prepare command finished", "command", command)
	return nil
}
