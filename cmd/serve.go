package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/plugins"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/server"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/syncengine"
	"github.com/conneroisu/playground/internal/terminal"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Boot a sandbox and serve the playground",
	Long: `Boot a sandbox, mount the workspace template into it and serve the
playground until interrupted.

Examples:
  playground serve                          # Built-in template on :8080
  playground serve -t workspace.yml -p 3000 # Custom template and port
  playground serve --theme light`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	serveCmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().StringP("template", "t", "", "Workspace template (default is the built-in template)")
	serveCmd.Flags().String("theme", config.DefaultTheme, "Initial appearance (light, dark)")
	serveCmd.Flags().String("snapshot-base-url", "", "Base URL of the dependency snapshot server")

	bindFlags(serveCmd.Flags(), map[string]string{
		"port":              "server.port",
		"host":              "server.host",
		"template":          "workspace.template",
		"theme":             "workspace.theme",
		"snapshot-base-url": "provision.snapshot_base_url",
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error(context.Background(), err, "Playground stopped")
		return err
	}
	return nil
}

// loadWorkspace reads the template named by path, or the built-in one, and
// adds the dependency manifest.
func loadWorkspace(path string) (workspace.Workspace, error) {
	var (
		ws  workspace.Workspace
		err error
	)
	if path == "" {
		ws, err = workspace.DefaultTemplate()
	} else {
		ws, err = workspace.LoadTemplate(path)
	}
	if err != nil {
		return workspace.Workspace{}, err
	}
	return ws.WithManifest(), nil
}

// serve is the composition root. It returns once ctx ends and everything
// has been torn down.
func serve(ctx context.Context, cfg *config.Config, logger logging.Logger) (err error) {
	ws, err := loadWorkspace(cfg.Workspace.Template)
	if err != nil {
		return err
	}
	appearance, err := theme.ParseAppearance(cfg.Workspace.Theme)
	if err != nil {
		return err
	}

	booter := sandbox.NewBooter(func(context.Context) (sandbox.Gateway, error) {
		return sandbox.NewLocal(sandbox.LocalOptions{Parent: cfg.Sandbox.Root, Shell: cfg.Sandbox.Shell}, logger)
	})
	bootCtx, cancelBoot := context.WithTimeout(ctx, cfg.Sandbox.BootTimeout)
	lease, err := booter.Boot(bootCtx)
	cancelBoot()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, lease.Release()) }()

	ed := editor.NewManager(appearance, logger)
	defer func() { err = errors.Join(err, ed.Close()) }()

	handle := session.New(ws, lease.Gateway(), ed, session.Options{
		Appearance: appearance,
		Terminal: terminal.Options{
			ResizeDebounce: cfg.Terminal.ResizeDebounce,
			CommandDelay:   cfg.Terminal.CommandDelay,
		},
	}, logger)

	supervisor, runtime, err := newSupervisor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, runtime.Close(context.Background())) }()

	var snapshots *sandbox.SnapshotFetcher
	if cfg.Provision.SnapshotBaseURL != "" {
		client := &http.Client{Timeout: cfg.Provision.FetchTimeout}
		snapshots = sandbox.NewSnapshotFetcher(cfg.Provision.SnapshotBaseURL, client, logger)
	}

	engine := syncengine.New(handle, snapshots, supervisor, syncengine.OptionsFromConfig(cfg), logger)
	if err := engine.Mount(ctx); err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}

	srv := server.New(cfg, handle, engine, supervisor, logger)
	router := server.NewRouter(cfg, srv, logger)
	serveErr := router.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(
		serveErr,
		router.Shutdown(shutdownCtx),
		srv.Shutdown(shutdownCtx),
		engine.Close(shutdownCtx),
		handle.Close(shutdownCtx),
	)
}

// newSupervisor registers the built-in plugins. The returned runtime backs
// the formatting plugin and must be closed after the supervisor stops.
func newSupervisor(ctx context.Context, cfg *config.Config, logger logging.Logger) (*plugins.Supervisor, *plugins.FormatterRuntime, error) {
	base := cfg.Plugins.Formatting.BaseURL
	if base == "" {
		base = cfg.Provision.SnapshotBaseURL
	}
	client := &http.Client{Timeout: cfg.Plugins.Formatting.FetchTimeout}
	runtime, err := plugins.NewFormatterRuntime(ctx, base, client, logger)
	if err != nil {
		return nil, nil, err
	}

	supervisor := plugins.NewSupervisor(cfg, logger)
	for _, p := range []plugins.Plugin{
		plugins.NewFormatting(runtime, cfg.Plugins.Formatting.CacheCapacity, logger),
		plugins.NewTypeAcquisition(cfg.Plugins.TypeAcquisition, logger),
		plugins.NewTSConfig(logger),
	} {
		if err := supervisor.Register(p); err != nil {
			_ = runtime.Close(context.Background())
			return nil, nil, err
		}
	}
	return supervisor, runtime, nil
}
