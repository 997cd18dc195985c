package editor

import (
	"context"
)

// Origin says where a content change came from.
type Origin int

const (
	// OriginLoad is a model being (re)loaded or the first element of a
	// change stream.
	OriginLoad Origin = iota
	// OriginUser is an edit typed by the user.
	OriginUser
	// OriginReload is an external change picked up from the filesystem.
	OriginReload
	// OriginFormat is a formatter rewriting the buffer.
	OriginFormat
)

func (o Origin) String() string {
	switch o {
	case OriginLoad:
		return "load"
	case OriginUser:
		return "user"
	case OriginReload:
		return "reload"
	case OriginFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Local reports whether the change originated in the editor and therefore
// needs to reach the filesystem.
func (o Origin) Local() bool {
	return o == OriginUser || o == OriginFormat
}

// Model is a snapshot of one buffer.
type Model struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Version  uint64 `json:"version"`
}

// Change is one element of the change stream.
type Change struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Version uint64 `json:"version"`
	Origin  Origin `json:"origin"`
}

// ViewState is the per-path presentation state kept across model switches.
// Cursor is a byte offset into the content.
type ViewState struct {
	Cursor     int   `json:"cursor"`
	ScrollTop  int   `json:"scrollTop"`
	ScrollLeft int   `json:"scrollLeft"`
	Folds      []int `json:"folds,omitempty"`
}

// ExtraLib is a type declaration file made available to the language
// service.
type ExtraLib struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Notification is a short message shown to the user.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CompilerOptions are language service settings, keyed by option name.
type CompilerOptions map[string]any

// Surface is the rich text widget the manager drives. Methods are called
// with the manager locked and must not call back into it.
type Surface interface {
	SetModel(m Model, vs ViewState)
	SetTheme(name string)
	SetCompilerOptions(opts CompilerOptions)
	AddExtraLib(lib ExtraLib)
	Notify(n Notification)
	Dispose()
}

// Formatter rewrites source text of one language.
type Formatter interface {
	Format(ctx context.Context, path, content string) (string, error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(ctx context.Context, path, content string) (string, error)

func (f FormatterFunc) Format(ctx context.Context, path, content string) (string, error) {
	return f(ctx, path, content)
}

// FileSystem is the storage the manager reads models from and writes them
// through to.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}
