// Package editor keeps the editor buffers of a playground session: one model
// per path, the saved view state of each, and a change stream that carries
// every edit in order.
package editor

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
)

// Manager owns the buffers and the attached surfaces.
type Manager struct {
	logger logging.Logger

	mu         sync.Mutex
	models     map[string]*Model
	viewStates map[string]ViewState
	active     string
	surfaces   map[uint64]Surface
	subs       map[uint64]*changeQueue
	nextID     uint64
	themeName  string
	compiler   CompilerOptions
	extraLibs  map[string]string
	formatters map[string]Formatter
	closed     bool
	done       chan struct{}
}

// NewManager returns an empty manager using the editor theme for appearance.
func NewManager(appearance theme.Appearance, logger logging.Logger) *Manager {
	return &Manager{
		logger:     logger.WithComponent("editor"),
		models:     make(map[string]*Model),
		viewStates: make(map[string]ViewState),
		surfaces:   make(map[uint64]Surface),
		subs:       make(map[uint64]*changeQueue),
		themeName:  theme.EditorTheme(appearance),
		extraLibs:  make(map[string]string),
		formatters: make(map[string]Formatter),
		done:       make(chan struct{}),
	}
}

// Attach binds a surface. It immediately receives the current theme,
// compiler options, extra libraries and active model. The returned function
// detaches and disposes it.
func (m *Manager) Attach(s Surface) (detach func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.surfaces[id] = s

	s.SetTheme(m.themeName)
	if m.compiler != nil {
		s.SetCompilerOptions(copyOptions(m.compiler))
	}
	for _, lib := range m.extraLibsLocked() {
		s.AddExtraLib(lib)
	}
	if model, ok := m.models[m.active]; ok {
		s.SetModel(*model, m.viewStates[m.active])
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			_, ok := m.surfaces[id]
			delete(m.surfaces, id)
			m.mu.Unlock()
			if ok {
				s.Dispose()
			}
		})
	}
}

func (m *Manager) eachSurfaceLocked(fn func(Surface)) {
	for _, s := range m.surfaces {
		fn(s)
	}
}

// LoadModel creates or replaces the model for path and makes it active. The
// saved view state for path is restored.
func (m *Manager) LoadModel(path, content, language string) Model {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.models[path]
	if !ok {
		model = &Model{Path: path}
		m.models[path] = model
	}
	if language == "" {
		language = workspace.LanguageFor(path)
	}
	model.Language = language
	if !ok || model.Content != content {
		model.Content = content
		model.Version++
	}
	m.active = path

	snapshot := *model
	m.publishLocked(snapshot, OriginLoad)
	vs := m.viewStates[path]
	m.eachSurfaceLocked(func(s Surface) { s.SetModel(snapshot, vs) })
	return snapshot
}

// ReadFile loads path from fs into a model and makes it active.
func (m *Manager) ReadFile(ctx context.Context, fs FileSystem, path string) (Model, error) {
	data, err := fs.ReadFile(ctx, path)
	if err != nil {
		return Model{}, err
	}
	return m.LoadModel(path, string(data), workspace.LanguageFor(path)), nil
}

// WriteFile writes content through to fs and records it as the model
// content for path without changing the active model.
func (m *Manager) WriteFile(ctx context.Context, fs FileSystem, path, content, language string) error {
	if err := fs.WriteFile(ctx, path, []byte(content)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[path]
	if !ok {
		if language == "" {
			language = workspace.LanguageFor(path)
		}
		m.models[path] = &Model{Path: path, Content: content, Language: language, Version: 1}
		return nil
	}
	if model.Content == content {
		return nil
	}
	model.Content = content
	model.Version++
	if path == m.active {
		snapshot := *model
		m.publishLocked(snapshot, OriginReload)
		vs := m.viewStates[path]
		m.eachSurfaceLocked(func(s Surface) { s.SetModel(snapshot, vs) })
	}
	return nil
}

// Edit applies a user edit to path.
func (m *Manager) Edit(path, content string) (Model, error) {
	return m.apply(path, content, OriginUser)
}

// Reload applies an external change to path. The saved cursor is moved so
// that it stays on the same text. It reports whether the content changed.
func (m *Manager) Reload(path, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.models[path]
	if !ok {
		return false, errors.NewFileNotFoundError(path)
	}
	if model.Content == content {
		return false, nil
	}

	vs, hasState := m.viewStates[path]
	if hasState {
		vs.Cursor = remapOffset(model.Content, content, vs.Cursor)
		m.viewStates[path] = vs
	}

	model.Content = content
	model.Version++
	snapshot := *model
	m.publishLocked(snapshot, OriginReload)
	if path == m.active {
		m.eachSurfaceLocked(func(s Surface) { s.SetModel(snapshot, vs) })
	}
	return true, nil
}

func (m *Manager) apply(path, content string, origin Origin) (Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, ok := m.models[path]
	if !ok {
		return Model{}, errors.NewFileNotFoundError(path)
	}
	model.Content = content
	model.Version++
	snapshot := *model
	m.publishLocked(snapshot, origin)
	return snapshot, nil
}

func (m *Manager) publishLocked(model Model, origin Origin) {
	c := Change{Path: model.Path, Content: model.Content, Version: model.Version, Origin: origin}
	for _, q := range m.subs {
		q.push(c)
	}
}

// Model returns the model for path.
func (m *Manager) Model(path string) (Model, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[path]
	if !ok {
		return Model{}, false
	}
	return *model, true
}

// Active returns the active model.
func (m *Manager) Active() (Model, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[m.active]
	if !ok {
		return Model{}, false
	}
	return *model, true
}

// Forget drops the model and view state of path, e.g. after removal.
func (m *Manager) Forget(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.models, path)
	delete(m.viewStates, path)
	if m.active == path {
		m.active = ""
	}
}

// Rename moves the models and view states at oldPath, and below it, to
// newPath. Unsaved buffer content moves with them.
func (m *Manager) Rename(oldPath, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := func(p string) (string, bool) {
		if p == oldPath {
			return newPath, true
		}
		if rest, ok := strings.CutPrefix(p, oldPath+"/"); ok {
			return newPath + "/" + rest, true
		}
		return "", false
	}

	models := make(map[string]*Model)
	for p, model := range m.models {
		if np, ok := target(p); ok {
			delete(m.models, p)
			model.Path = np
			models[np] = model
		}
	}
	maps.Copy(m.models, models)

	states := make(map[string]ViewState)
	for p, vs := range m.viewStates {
		if np, ok := target(p); ok {
			delete(m.viewStates, p)
			states[np] = vs
		}
	}
	maps.Copy(m.viewStates, states)
	if np, ok := target(m.active); ok {
		m.active = np
		if model, ok := m.models[np]; ok {
			snapshot := *model
			vs := m.viewStates[np]
			m.eachSurfaceLocked(func(s Surface) { s.SetModel(snapshot, vs) })
		}
	}
}

// Changes streams content changes. The first element is the active model
// content with OriginLoad, when there is an active model. The queue is
// unbounded; the channel closes when ctx ends or the manager is closed.
func (m *Manager) Changes(ctx context.Context) <-chan Change {
	q := newChangeQueue()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(q.out)
		return q.out
	}
	id := m.nextID
	m.nextID++
	if model, ok := m.models[m.active]; ok {
		q.push(Change{Path: model.Path, Content: model.Content, Version: model.Version, Origin: OriginLoad})
	}
	m.subs[id] = q
	m.mu.Unlock()

	go func() {
		q.pump(ctx, m.done)
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()
	return q.out
}

// SaveViewState records the view state for path.
func (m *Manager) SaveViewState(path string, vs ViewState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewStates[path] = vs
}

// ViewState returns the saved view state for path.
func (m *Manager) ViewState(path string) (ViewState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.viewStates[path]
	return vs, ok
}

// SetTheme switches every surface to the editor theme for appearance.
func (m *Manager) SetTheme(appearance theme.Appearance) {
	name := theme.EditorTheme(appearance)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.themeName = name
	m.eachSurfaceLocked(func(s Surface) { s.SetTheme(name) })
}

// Theme returns the current editor theme name.
func (m *Manager) Theme() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.themeName
}

// SetCompilerOptions replaces the language service settings.
func (m *Manager) SetCompilerOptions(opts CompilerOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiler = copyOptions(opts)
	m.eachSurfaceLocked(func(s Surface) { s.SetCompilerOptions(copyOptions(opts)) })
}

// CompilerOptions returns the current language service settings.
func (m *Manager) CompilerOptions() CompilerOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyOptions(m.compiler)
}

func copyOptions(opts CompilerOptions) CompilerOptions {
	if opts == nil {
		return nil
	}
	out := make(CompilerOptions, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}

// AddExtraLib registers a declaration file. Re-adding a path replaces it.
func (m *Manager) AddExtraLib(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.extraLibs[path]; ok && old == content {
		return
	}
	m.extraLibs[path] = content
	lib := ExtraLib{Path: path, Content: content}
	m.eachSurfaceLocked(func(s Surface) { s.AddExtraLib(lib) })
}

// ExtraLibs returns every registered declaration file sorted by path.
func (m *Manager) ExtraLibs() []ExtraLib {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extraLibsLocked()
}

func (m *Manager) extraLibsLocked() []ExtraLib {
	libs := make([]ExtraLib, 0, len(m.extraLibs))
	for p, c := range m.extraLibs {
		libs = append(libs, ExtraLib{Path: p, Content: c})
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].Path < libs[j].Path })
	return libs
}

// RegisterFormatter installs f for language, replacing any previous one.
// A nil f removes it.
func (m *Manager) RegisterFormatter(language string, f Formatter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == nil {
		delete(m.formatters, language)
		return
	}
	m.formatters[language] = f
}

// Formatters returns the languages with a registered formatter.
func (m *Manager) Formatters() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	langs := make([]string, 0, len(m.formatters))
	for l := range m.formatters {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Format runs the formatter for the language of path over its buffer. The
// result is applied as an edit. It reports whether the buffer changed; a
// language without formatter is left alone.
func (m *Manager) Format(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	model, ok := m.models[path]
	if !ok {
		m.mu.Unlock()
		return false, errors.NewFileNotFoundError(path)
	}
	f, hasFormatter := m.formatters[model.Language]
	content, version := model.Content, model.Version
	m.mu.Unlock()

	if !hasFormatter {
		return false, nil
	}

	formatted, err := f.Format(ctx, path, content)
	if err != nil {
		return false, err
	}
	if formatted == content {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok = m.models[path]
	if !ok || model.Version != version {
		// The buffer moved on while formatting.
		return false, nil
	}
	model.Content = formatted
	model.Version++
	snapshot := *model
	m.publishLocked(snapshot, OriginFormat)
	if path == m.active {
		vs := m.viewStates[path]
		m.eachSurfaceLocked(func(s Surface) { s.SetModel(snapshot, vs) })
	}
	return true, nil
}

// Notify shows a message on every surface.
func (m *Manager) Notify(title, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := Notification{Title: title, Description: description}
	m.logger.Info(context.Background(), "Notification", "title", title)
	m.eachSurfaceLocked(func(s Surface) { s.Notify(n) })
}

// IsBlank reports whether content has nothing but whitespace.
func IsBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}

// Close ends every change stream and disposes every surface.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	surfaces := m.surfaces
	m.surfaces = make(map[uint64]Surface)
	m.mu.Unlock()

	for _, s := range surfaces {
		s.Dispose()
	}
	return nil
}
