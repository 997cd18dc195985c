package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/workspace"
)

// Default terminal size when the browser does not report one.
const (
	defaultCols = 80
	defaultRows = 24
)

// Terminal socket message types. Shell output and keystrokes travel as
// binary frames; these are the text frames.
const (
	MsgResize = "resize"
)

// ResizeMessage reports the size of the browser terminal.
type ResizeMessage struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// terminalView renders one shell into a browser terminal.
type terminalView struct {
	*client

	mu     sync.Mutex
	cols   int
	rows   int
	onData func([]byte)
}

func (v *terminalView) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	if !v.enqueue(websocket.MessageBinary, data) {
		return 0, v.ctx.Err()
	}
	return len(p), nil
}

func (v *terminalView) OnData(fn func(data []byte)) {
	v.mu.Lock()
	v.onData = fn
	v.mu.Unlock()
}

func (v *terminalView) Size() (cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cols, v.rows
}

func (v *terminalView) SetTheme(p theme.Palette) {
	v.sendJSON(MsgTheme, p)
}

func (v *terminalView) resize(cols, rows int) bool {
	if cols <= 0 || rows <= 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cols == cols && v.rows == rows {
		return false
	}
	v.cols, v.rows = cols, rows
	return true
}

// input forwards keystrokes. Input typed before the shell is connected is
// dropped.
func (v *terminalView) input(data []byte) {
	v.mu.Lock()
	fn := v.onData
	v.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// pickShell returns the shell named by the request, or the workspace's
// first shell.
func pickShell(ws workspace.Workspace, name string) (workspace.Shell, bool) {
	shells := ws.Shells()
	if name == "" {
		if len(shells) == 0 {
			return workspace.Shell{Name: "shell"}, true
		}
		return shells[0], true
	}
	for _, sh := range shells {
		if sh.Name == name {
			return sh, true
		}
	}
	return workspace.Shell{}, false
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// HandleTerminalSocket opens a shell in the sandbox and streams it to the
// browser. The socket closes when the shell exits.
func (s *Server) HandleTerminalSocket(w http.ResponseWriter, r *http.Request) {
	shell, ok := pickShell(s.handle.Workspace(), r.URL.Query().Get("shell"))
	if !ok {
		http.Error(w, "unknown shell", http.StatusNotFound)
		return
	}

	c, ok := s.sockets.accept(w, r, "terminal")
	if !ok {
		return
	}
	defer s.sockets.release(c)

	view := &terminalView{
		client: c,
		cols:   queryInt(r, "cols", defaultCols),
		rows:   queryInt(r, "rows", defaultRows),
	}
	term, err := s.handle.MakeTerminal(c.ctx, shell, view)
	if err != nil {
		c.logger.Warn(c.ctx, err, "Failed to open terminal", "shell", shell.Name)
		c.sendJSON(MsgError, errorBody(err))
		return
	}
	defer term.Close()

	go func() {
		select {
		case <-term.Done():
			c.close(websocket.StatusNormalClosure, "shell exited")
		case <-c.ctx.Done():
		}
	}()

	readLoop(c, func(typ websocket.MessageType, data []byte) {
		if typ == websocket.MessageBinary {
			view.input(data)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != MsgResize {
			return
		}
		var msg ResizeMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return
		}
		if view.resize(msg.Cols, msg.Rows) {
			s.handle.Terminals().NotifyResize()
		}
	})
}
