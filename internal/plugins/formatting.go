package plugins

import (
	"context"
	"sync"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	FormattingName    = "formatting"
	FormattingFile    = "dprint.json"
	NotificationTitle = "Playground"
)

// ModuleLoader loads a formatter plugin by URL.
type ModuleLoader interface {
	Load(ctx context.Context, pluginURL string) (*FormatterModule, error)
}

// Formatting installs the formatters listed in dprint.json and keeps their
// language settings current.
type Formatting struct {
	loader ModuleLoader
	cache  *Cache[*FormatterModule]
	logger logging.Logger

	mu        sync.Mutex
	installed map[string]*FormatterModule
}

// NewFormatting creates the plugin. Loaded modules are kept in an LRU cache
// of the given capacity keyed by plugin URL.
func NewFormatting(loader ModuleLoader, capacity int, logger logging.Logger) *Formatting {
	f := &Formatting{
		loader:    loader,
		logger:    logger.WithComponent(FormattingName),
		installed: make(map[string]*FormatterModule),
	}
	f.cache = NewCache(capacity, f.evict)
	return f
}

// evict closes a module leaving the cache unless it still serves a language.
func (f *Formatting) evict(_ string, m *FormatterModule) {
	f.mu.Lock()
	inUse := f.installed[m.Language()] == m
	f.mu.Unlock()
	if !inUse {
		_ = m.Close(context.Background())
	}
}

func (f *Formatting) Name() string { return FormattingName }

func (f *Formatting) Description() string {
	return "Installs dprint formatters and applies their settings"
}

// Cache exposes the module cache.
func (f *Formatting) Cache() *Cache[*FormatterModule] {
	return f.cache
}

func (f *Formatting) Run(ctx context.Context, host Host) error {
	return watchWellKnown(ctx, host, f.Name(), FormattingFile, f.logger,
		func(ctx context.Context, content []byte, initial bool) error {
			if !initial {
				host.Editor().Notify(NotificationTitle, "Updated formatter settings!")
			}
			return f.apply(ctx, host, content)
		})
}

func (f *Formatting) apply(ctx context.Context, host Host, content []byte) error {
	if !gjson.ValidBytes(content) {
		return errors.NewConfigError(FormattingFile + " is not valid JSON")
	}
	doc := gjson.ParseBytes(content)

	var urls []string
	for _, p := range doc.Get("plugins").Array() {
		if p.Type == gjson.String {
			urls = append(urls, p.String())
		}
	}

	modules, loadErr := f.load(ctx, urls)

	ed := host.Editor()
	f.mu.Lock()
	listed := make(map[string]bool, len(modules))
	for _, m := range modules {
		listed[m.Language()] = true
		if f.installed[m.Language()] != m {
			f.installed[m.Language()] = m
			ed.RegisterFormatter(m.Language(), m)
		}
	}
	for language := range f.installed {
		if !listed[language] {
			delete(f.installed, language)
			ed.RegisterFormatter(language, nil)
		}
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "plugins" {
			return true
		}
		if m, ok := f.installed[key.String()]; ok {
			m.SetConfig(value.Raw)
		}
		return true
	})
	f.mu.Unlock()

	return loadErr
}

// load resolves every plugin URL through the cache. Plugins that fail to
// load are reported together; the rest are returned.
func (f *Formatting) load(ctx context.Context, urls []string) ([]*FormatterModule, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	results := make([]*FormatterModule, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(len(urls))
	for i, u := range urls {
		g.Go(func() error {
			m, err := f.cache.GetOrLoad(ctx, u, func(ctx context.Context) (*FormatterModule, error) {
				return f.loader.Load(ctx, u)
			})
			results[i], errs[i] = m, err
			return nil
		})
	}
	_ = g.Wait()

	modules := make([]*FormatterModule, 0, len(urls))
	for _, m := range results {
		if m != nil {
			modules = append(modules, m)
		}
	}
	return modules, errors.Join(errs...)
}

// Installed returns the module serving language, if any.
func (f *Formatting) Installed(language string) (*FormatterModule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.installed[language]
	return m, ok
}
