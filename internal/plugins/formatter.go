package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// maxModuleSize bounds a downloaded formatter module.
const maxModuleSize = 64 << 20

var languagePattern = regexp.MustCompile(`^/vendor/dprint/plugins/([a-zA-Z0-9_-]+)-.*\.wasm$`)

// LanguageFromURL extracts the language a formatter plugin URL serves, e.g.
// "typescript" for /vendor/dprint/plugins/typescript-0.93.0.wasm.
func LanguageFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	m := languagePattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatterRuntime compiles formatter plugins. Formatters are WASI command
// modules: the source arrives on stdin, the formatted text leaves on stdout,
// and the language settings are passed as JSON in DPRINT_CONFIG.
type FormatterRuntime struct {
	runtime wazero.Runtime
	client  *http.Client
	base    *url.URL
	logger  logging.Logger
}

// NewFormatterRuntime creates a runtime resolving relative plugin URLs
// against baseURL.
func NewFormatterRuntime(ctx context.Context, baseURL string, client *http.Client, logger logging.Logger) (*FormatterRuntime, error) {
	var base *url.URL
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("invalid formatter base URL %q: %v", baseURL, err))
		}
		base = u
	}
	if client == nil {
		client = http.DefaultClient
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	return &FormatterRuntime{
		runtime: r,
		client:  client,
		base:    base,
		logger:  logger.WithComponent("formatter"),
	}, nil
}

func (r *FormatterRuntime) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.NewConfigError(fmt.Sprintf("invalid plugin URL %q", raw))
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if r.base == nil {
		return "", errors.NewConfigError(fmt.Sprintf("relative plugin URL %q without a base URL", raw))
	}
	return r.base.ResolveReference(u).String(), nil
}

// Load downloads and compiles the formatter plugin at pluginURL.
func (r *FormatterRuntime) Load(ctx context.Context, pluginURL string) (*FormatterModule, error) {
	language, ok := LanguageFromURL(pluginURL)
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("cannot derive a language from plugin URL %q", pluginURL))
	}
	target, err := r.resolve(pluginURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.NewNetworkError("build plugin request", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("fetch plugin "+target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewNetworkError(fmt.Sprintf("fetch plugin %s: status %d", target, resp.StatusCode), nil)
	}

	binary, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleSize+1))
	if err != nil {
		return nil, errors.NewNetworkError("read plugin "+target, err)
	}
	if len(binary) > maxModuleSize {
		return nil, errors.NewValidationError(errors.ReasonUnsupportedType, "plugin exceeds the size limit: "+target)
	}

	compiled, err := r.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.NewValidationError(errors.ReasonUnsupportedType,
			fmt.Sprintf("compile plugin %s: %v", target, err))
	}

	r.logger.Info(ctx, "Loaded formatter plugin", "language", language, "url", target)
	return &FormatterModule{
		language: language,
		url:      target,
		runtime:  r.runtime,
		compiled: compiled,
		config:   "{}",
	}, nil
}

// Close releases every compiled module.
func (r *FormatterRuntime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// FormatterModule is one compiled formatter plugin. It implements
// editor.Formatter; every call runs in a fresh module instance.
type FormatterModule struct {
	language string
	url      string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	mu     sync.RWMutex
	config string
}

func (m *FormatterModule) Language() string { return m.language }
func (m *FormatterModule) URL() string { return m.url }

// SetConfig replaces the language settings passed to the formatter.
func (m *FormatterModule) SetConfig(config string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// Config returns the current language settings.
func (m *FormatterModule) Config() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Format implements editor.Formatter.
func (m *FormatterModule) Format(ctx context.Context, path, content string) (string, error) {
	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("formatter", path).
		WithStdin(strings.NewReader(content)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithEnv("DPRINT_CONFIG", m.Config()).
		WithEnv("DPRINT_FILE_PATH", path)

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			return "", errors.NewInternalError(
				fmt.Sprintf("formatter %s exited with code %d: %s", m.language, exitErr.ExitCode(), strings.TrimSpace(stderr.String())),
				err,
			)
		}
		return "", errors.NewInternalError("formatter "+m.language+" failed", err)
	}

	if stdout.Len() == 0 && content != "" {
		return "", errors.NewInternalError("formatter "+m.language+" produced no output", nil)
	}
	return stdout.String(), nil
}

// Close releases the compiled module.
func (m *FormatterModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
