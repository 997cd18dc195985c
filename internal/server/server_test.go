package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/terminal"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *Server
	handle *session.Handle
	gw     *sandbox.Memory
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws := workspace.New("W", []*workspace.Node{
		workspace.NewDirectory("src", workspace.NewFile("main.ts", "a")),
		workspace.NewFile("README.md", "# W"),
	},
		workspace.WithInitialFile("src/main.ts"),
		workspace.WithShells(workspace.Shell{Name: "dev"}, workspace.Shell{Name: "test", Command: "pnpm test"}),
	)

	gw := sandbox.NewMemory()
	require.NoError(t, gw.Mount(context.Background(), ws.Tree(), ws.Root()))

	ed := editor.NewManager(theme.Dark, logging.NewNop())
	h := session.New(ws, gw, ed, session.Options{Appearance: theme.Dark}, logging.NewNop())

	cfg := config.Default()
	srv := New(cfg, h, nil, nil, logging.NewNop())
	router := NewRouter(cfg, srv, logging.NewNop())
	ts := httptest.NewServer(router.Handler())

	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
		_ = h.Close(context.Background())
		_ = ed.Close()
	})
	return &fixture{server: srv, handle: h, gw: gw, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = strings.NewReader(s)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, f.http.URL+path, r)
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readUntil reads text envelopes until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		mt, data, err := conn.Read(ctx)
		require.NoError(t, err)
		if mt != websocket.MessageText {
			continue
		}
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == typ {
			return env
		}
	}
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[healthResponse](t, resp)
	assert.Equal(t, StatusProvisioning, health.Status)
	assert.False(t, health.Ready)
	assert.Equal(t, "W", health.Workspace)

	f.handle.Ready().Fire()
	health = decodeBody[healthResponse](t, f.do(t, http.MethodGet, "/healthz", nil))
	assert.Equal(t, StatusReady, health.Status)
	assert.True(t, health.Ready)
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	html := string(body)
	assert.Contains(t, html, "<title>W - playground</title>")
	assert.Contains(t, html, `data-appearance="dark"`)
	assert.Contains(t, html, `data-shell="dev"`)
	assert.Contains(t, html, `data-shell="test"`)
}

func TestWorkspace(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/workspace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ws := decodeBody[WorkspaceResponse](t, resp)

	assert.Equal(t, "W", ws.Name)
	assert.Equal(t, "src/main.ts", ws.Selected)
	assert.Equal(t, theme.Dark, ws.Appearance)
	require.Len(t, ws.Tree, 2)

	src := ws.Tree[0]
	assert.Equal(t, "directory", src.Kind)
	assert.Empty(t, src.Language)
	require.Len(t, src.Children, 1)
	assert.Equal(t, "src/main.ts", src.Children[0].Path)
	assert.Equal(t, "file", src.Children[0].Kind)
	assert.Len(t, ws.Shells, 2)
}

func TestFiles(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantPath string
		wantErr  string
		check    func(t *testing.T, f *fixture)
	}{
		{
			name:     "create file in directory",
			body:     FileRequest{Op: "create", Path: "src", Name: "util.ts"},
			wantCode: http.StatusCreated,
			wantPath: "src/util.ts",
			check: func(t *testing.T, f *fixture) {
				assert.True(t, f.gw.Exists("/W/src/util.ts"))
				assert.Equal(t, "util.ts", f.handle.Selected().Name())
			},
		},
		{
			name:     "create directory at root",
			body:     FileRequest{Op: "create", Name: "lib", Kind: "directory"},
			wantCode: http.StatusCreated,
			wantPath: "lib",
		},
		{
			name:     "invalid name",
			body:     FileRequest{Op: "create", Name: "a/b.ts"},
			wantCode: http.StatusBadRequest,
			wantErr:  "InvalidName",
		},
		{
			name:     "duplicate name",
			body:     FileRequest{Op: "create", Name: "README.md"},
			wantCode: http.StatusConflict,
		},
		{
			name:     "unknown kind",
			body:     FileRequest{Op: "create", Name: "x", Kind: "symlink"},
			wantCode: http.StatusBadRequest,
			wantErr:  "UnsupportedType",
		},
		{
			name:     "rename",
			body:     FileRequest{Op: "rename", Path: "README.md", Name: "NOTES.md"},
			wantCode: http.StatusOK,
			wantPath: "NOTES.md",
			check: func(t *testing.T, f *fixture) {
				assert.True(t, f.gw.Exists("/W/NOTES.md"))
				assert.False(t, f.gw.Exists("/W/README.md"))
			},
		},
		{
			name:     "remove",
			body:     FileRequest{Op: "remove", Path: "src/main.ts"},
			wantCode: http.StatusNoContent,
			check: func(t *testing.T, f *fixture) {
				assert.False(t, f.gw.Exists("/W/src/main.ts"))
				assert.Nil(t, f.handle.Selected())
			},
		},
		{
			name:     "remove missing",
			body:     FileRequest{Op: "remove", Path: "nope.ts"},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown operation",
			body:     FileRequest{Op: "copy", Path: "README.md"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown field",
			body:     `{"op":"create","name":"x.ts","mode":"0644"}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(t, http.MethodPost, "/api/files", tt.body)
			require.Equal(t, tt.wantCode, resp.StatusCode)

			if tt.wantPath != "" {
				node := decodeBody[FileNode](t, resp)
				assert.Equal(t, tt.wantPath, node.Path)
			}
			if tt.wantErr != "" {
				body := decodeBody[errorResponse](t, resp)
				assert.Equal(t, tt.wantErr, body.Reason)
				assert.Equal(t, "validation", body.Kind)
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestRenameDirectoryReportsChildPaths(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/files", FileRequest{Op: "rename", Path: "src", Name: "lib"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	node := decodeBody[FileNode](t, resp)
	assert.Equal(t, "lib", node.Path)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "lib/main.ts", node.Children[0].Path)
}

func TestSelect(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/select", pathRequest{Path: "README.md"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "README.md", f.handle.Selected().Name())

	resp = f.do(t, http.MethodPost, "/api/select", pathRequest{Path: "missing.ts"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "README.md", f.handle.Selected().Name())

	resp = f.do(t, http.MethodPost, "/api/select", pathRequest{})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, f.handle.Selected())
}

func TestTheme(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/theme", themeRequest{Appearance: "Light"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, theme.Light, f.handle.Appearance())

	resp = f.do(t, http.MethodPost, "/api/theme", themeRequest{Appearance: "purple"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, theme.Light, f.handle.Appearance())
}

func TestFormatWithoutFormatter(t *testing.T) {
	f := newFixture(t)
	f.handle.Editor().LoadModel("/W/src/main.ts", "a", "typescript")

	resp := f.do(t, http.MethodPost, "/api/format", pathRequest{Path: "src/main.ts"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[formatResponse](t, resp).Changed)
}

func TestFormatRunsRegisteredFormatter(t *testing.T) {
	f := newFixture(t)
	ed := f.handle.Editor()
	ed.LoadModel("/W/src/main.ts", "a", "typescript")
	ed.RegisterFormatter("typescript", editor.FormatterFunc(func(_ context.Context, _, content string) (string, error) {
		return strings.ToUpper(content), nil
	}))

	resp := f.do(t, http.MethodPost, "/api/format", pathRequest{Path: "src/main.ts"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[formatResponse](t, resp).Changed)

	model, ok := ed.Model("/W/src/main.ts")
	require.True(t, ok)
	assert.Equal(t, "A", model.Content)
}

func TestPluginsWithoutSupervisor(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/plugins", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "plain error", err: io.EOF, want: http.StatusBadGateway},
		{name: "cancelled", err: context.Canceled, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestEditorSocket(t *testing.T) {
	f := newFixture(t)
	ed := f.handle.Editor()
	ed.LoadModel("/W/src/main.ts", "a", "typescript")

	conn := f.dial(t, "/ws/editor")

	env := readUntil(t, conn, MsgTheme)
	var name string
	require.NoError(t, json.Unmarshal(env.Payload, &name))
	assert.Equal(t, "vs-dark", name)

	env = readUntil(t, conn, MsgModel)
	var msg ModelMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, "/W/src/main.ts", msg.Model.Path)
	assert.Equal(t, "a", msg.Model.Content)

	writeEnvelope(t, conn, MsgEdit, EditMessage{Path: "/W/src/main.ts", Content: "b"})
	assert.Eventually(t, func() bool {
		m, ok := ed.Model("/W/src/main.ts")
		return ok && m.Content == "b"
	}, 2*time.Second, 10*time.Millisecond)

	writeEnvelope(t, conn, MsgViewState, ViewStateMessage{
		Path:      "/W/src/main.ts",
		ViewState: editor.ViewState{Cursor: 1, ScrollTop: 4},
	})
	assert.Eventually(t, func() bool {
		vs, ok := ed.ViewState("/W/src/main.ts")
		return ok && vs.ScrollTop == 4
	}, 2*time.Second, 10*time.Millisecond)

	f.handle.SetTheme(theme.Light)
	ed.SetTheme(theme.Light)
	env = readUntil(t, conn, MsgTheme)
	require.NoError(t, json.Unmarshal(env.Payload, &name))
	assert.Equal(t, "vs", name)
}

func TestEditorSocketSelectAndErrors(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/editor")

	writeEnvelope(t, conn, MsgSelect, pathRequest{Path: "README.md"})
	assert.Eventually(t, func() bool {
		sel := f.handle.Selected()
		return sel != nil && sel.Name() == "README.md"
	}, 2*time.Second, 10*time.Millisecond)

	writeEnvelope(t, conn, "paste", map[string]string{})
	env := readUntil(t, conn, MsgError)
	var body errorResponse
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, "UnsupportedType", body.Reason)

	writeEnvelope(t, conn, MsgEdit, EditMessage{Path: "/W/unknown.ts", Content: "x"})
	env = readUntil(t, conn, MsgError)
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, "not_found", body.Kind)
}

func TestTerminalSocket(t *testing.T) {
	f := newFixture(t)
	f.handle.Ready().Fire()

	conn := f.dial(t, "/ws/terminal?shell=dev&cols=100&rows=30")

	require.Eventually(t, func() bool { return len(f.gw.Shells()) == 1 }, 2*time.Second, 10*time.Millisecond)
	shell := f.gw.Shells()[0]
	cols, rows, _ := shell.Size()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 30, rows)

	env := readUntil(t, conn, MsgTheme)
	var palette theme.Palette
	require.NoError(t, json.Unmarshal(env.Payload, &palette))
	assert.Equal(t, theme.TerminalPalette(theme.Dark), palette)

	go func() { _ = shell.Emit([]byte("hello")) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var output strings.Builder
	for !strings.Contains(output.String(), "hello") {
		mt, data, err := conn.Read(ctx)
		require.NoError(t, err)
		if mt == websocket.MessageBinary {
			output.Write(data)
		}
	}
	assert.True(t, strings.HasPrefix(output.String(), terminal.LoadingMessage))

	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte("ls\n")))
	assert.Eventually(t, func() bool {
		return strings.Contains(shell.Written(), "ls\n")
	}, 2*time.Second, 10*time.Millisecond)

	shell.Exit(0)
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestTerminalSocketUnknownShell(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/ws/terminal?shell=nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, f.gw.Shells())
}

func TestTerminalViewResize(t *testing.T) {
	v := &terminalView{cols: 80, rows: 24}

	assert.False(t, v.resize(80, 24))
	assert.False(t, v.resize(0, 10))
	assert.True(t, v.resize(120, 40))
	cols, rows := v.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)
}

func TestPickShell(t *testing.T) {
	withShells := workspace.New("W", nil, workspace.WithShells(workspace.Shell{Name: "a"}, workspace.Shell{Name: "b"}))
	bare := workspace.New("W", nil)

	tests := []struct {
		name   string
		ws     workspace.Workspace
		query  string
		want   string
		wantOK bool
	}{
		{name: "first by default", ws: withShells, want: "a", wantOK: true},
		{name: "by name", ws: withShells, query: "b", want: "b", wantOK: true},
		{name: "unknown", ws: withShells, query: "c", wantOK: false},
		{name: "no shells declared", ws: bare, want: "shell", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh, ok := pickShell(tt.ws, tt.query)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, sh.Name)
			}
		})
	}
}

func TestShutdownClosesSockets(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/editor")
	readUntil(t, conn, MsgTheme)
	require.Eventually(t, func() bool { return f.server.sockets.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.server.Shutdown(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
			break
		}
	}
	assert.Eventually(t, func() bool { return f.server.sockets.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	resp := f.do(t, http.MethodGet, "/ws/editor", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
