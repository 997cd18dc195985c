package plugins

import (
	"context"

	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
)

// applyFunc applies one version of a well-known file. initial is true for
// the content found at subscribe time.
type applyFunc func(ctx context.Context, content []byte, initial bool) error

// watchWellKnown locates the file called name and applies every version of
// it until ctx ends. A workspace without the file is a no-op. Failures to
// apply a version are logged and do not stop the watch; a failed read ends
// it with an error.
func watchWellKnown(ctx context.Context, host Host, plugin, name string, logger logging.Logger, apply applyFunc) error {
	node, _, ok := host.Workspace().FindFile(name)
	if !ok {
		logger.Debug(ctx, "Well-known file absent", "file", name)
		return nil
	}

	updates, err := host.WatchFile(ctx, node)
	if err != nil {
		return err
	}

	initial := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Err != nil {
				return update.Err
			}

			err := apply(ctx, update.Content, initial)
			metrics.RecordPluginReload(plugin, err)
			if err != nil {
				logger.Warn(ctx, err, "Failed to apply file", "file", name, "initial", initial)
			}
			initial = false
		}
	}
}
