package plugins

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const TypeAcquisitionName = "type-acquisition"

// TypeAcquisition registers the declaration files of every dependency in
// package.json with the editor, re-running whenever the manifest changes.
type TypeAcquisition struct {
	exclude  map[string]struct{}
	maxDepth int
	timeout  time.Duration
	logger   logging.Logger
}

func NewTypeAcquisition(cfg config.TypeAcquisitionConfig, logger logging.Logger) *TypeAcquisition {
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, name := range cfg.Exclude {
		exclude[name] = struct{}{}
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = config.DefaultTypesMaxDepth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTypesTimeout
	}
	return &TypeAcquisition{
		exclude:  exclude,
		maxDepth: cfg.MaxDepth,
		timeout:  cfg.Timeout,
		logger:   logger.WithComponent(TypeAcquisitionName),
	}
}

func (t *TypeAcquisition) Name() string { return TypeAcquisitionName }

func (t *TypeAcquisition) Description() string {
	return "Registers dependency type declarations with the editor"
}

func (t *TypeAcquisition) Run(ctx context.Context, host Host) error {
	return watchWellKnown(ctx, host, t.Name(), workspace.ManifestName, t.logger,
		func(ctx context.Context, content []byte, _ bool) error {
			return t.acquire(ctx, host, content)
		})
}

// Dependencies returns the sorted dependency names of a manifest, minus the
// excluded packages.
func (t *TypeAcquisition) Dependencies(manifest []byte) ([]string, error) {
	if !gjson.ValidBytes(manifest) {
		return nil, errors.NewConfigError(workspace.ManifestName + " is not valid JSON")
	}

	var deps []string
	gjson.GetBytes(manifest, "dependencies").ForEach(func(key, _ gjson.Result) bool {
		if _, skip := t.exclude[key.String()]; !skip {
			deps = append(deps, key.String())
		}
		return true
	})
	sort.Strings(deps)
	return deps, nil
}

// extraLibPath is the URI the editor knows a workspace file by.
func extraLibPath(p string) string {
	return "file://" + p
}

func (t *TypeAcquisition) acquire(ctx context.Context, host Host, manifest []byte) error {
	deps, err := t.Dependencies(manifest)
	if err != nil {
		return err
	}
	host.Editor().AddExtraLib(extraLibPath("/"+workspace.ManifestName), string(manifest))
	if len(deps) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(len(deps))
	for _, pkg := range deps {
		g.Go(func() error {
			if err := t.acquirePackage(ctx, host, pkg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	t.logger.Debug(ctx, "Acquired types", "packages", len(deps), "failed", len(errs))
	return errors.Join(errs...)
}

func (t *TypeAcquisition) acquirePackage(ctx context.Context, host Host, pkg string) error {
	modulePath := "/node_modules/" + pkg
	manifestPath := modulePath + "/" + workspace.ManifestName

	readCtx, cancel := context.WithTimeout(ctx, t.timeout)
	data, err := host.Gateway().ReadFile(readCtx, host.Workspace().RelativePath(manifestPath))
	cancel()
	if err != nil {
		return errors.WrapIO(err, "acquire types", pkg)
	}
	host.Editor().AddExtraLib(extraLibPath(manifestPath), string(data))

	t.walk(ctx, host, modulePath, 0)
	return nil
}

// walk registers every .d.ts file below dir. Directories that cannot be
// listed are skipped; all entries of one level are visited concurrently.
func (t *TypeAcquisition) walk(ctx context.Context, host Host, dir string, depth int) {
	if depth > t.maxDepth || ctx.Err() != nil {
		return
	}

	gw, ws := host.Gateway(), host.Workspace()

	listCtx, cancel := context.WithTimeout(ctx, t.timeout)
	entries, err := gw.ReadDirectory(listCtx, ws.RelativePath(dir))
	cancel()
	if err != nil {
		t.logger.Debug(ctx, "Skipping unreadable directory", "dir", dir, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(len(entries))
	for _, entry := range entries {
		p := path.Join(dir, entry.Name)
		switch {
		case entry.IsDir:
			g.Go(func() error {
				t.walk(ctx, host, p, depth+1)
				return nil
			})
		case strings.HasSuffix(entry.Name, ".d.ts"):
			g.Go(func() error {
				readCtx, cancel := context.WithTimeout(ctx, t.timeout)
				defer cancel()
				data, err := gw.ReadFile(readCtx, ws.RelativePath(p))
				if err != nil {
					t.logger.Debug(ctx, "Skipping unreadable declaration", "path", p, "error", err)
					return nil
				}
				host.Editor().AddExtraLib(extraLibPath(p), string(data))
				return nil
			})
		}
	}
	_ = g.Wait()
}
