// Package server exposes one playground session to a browser: a page, a
// small JSON API over the workspace, and WebSocket bridges for the editor
// and the terminals.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"time"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/plugins"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/syncengine"
	"github.com/conneroisu/playground/internal/theme"
	"github.com/conneroisu/playground/internal/version"
	"github.com/conneroisu/playground/internal/workspace"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Server implements Handlers for one session.
type Server struct {
	config     *config.Config
	handle     *session.Handle
	engine     *syncengine.Engine
	supervisor *plugins.Supervisor
	logger     logging.Logger
	sockets    *socketHub
}

// New creates the handlers for handle. engine and supervisor may be nil.
func New(cfg *config.Config, handle *session.Handle, engine *syncengine.Engine, supervisor *plugins.Supervisor, logger logging.Logger) *Server {
	logger = logger.WithComponent("server")
	return &Server{
		config:     cfg,
		handle:     handle,
		engine:     engine,
		supervisor: supervisor,
		logger:     logger,
		sockets:    newSocketHub(cfg.Server.AllowedOrigins, logger),
	}
}

// Shutdown closes every open socket.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sockets.Shutdown(ctx)
}

// HandleIndex renders the playground page.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	ws := s.handle.Workspace()
	page := indexPage(pageData{
		Workspace:  ws.Name(),
		Appearance: string(s.handle.Appearance()),
		Shells:     shellNames(ws),
		Version:    version.Short(),
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "Failed to render index page")
	}
}

func shellNames(ws workspace.Workspace) []string {
	shells := ws.Shells()
	names := make([]string, 0, len(shells))
	for _, sh := range shells {
		names = append(names, sh.Name)
	}
	return names
}

type healthResponse struct {
	Status    string    `json:"status"`
	Workspace string    `json:"workspace"`
	Ready     bool      `json:"ready"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Health statuses.
const (
	StatusReady        = "ready"
	StatusProvisioning = "provisioning"
	StatusDegraded     = "degraded"
)

// HandleHealth reports provisioning progress. A failed provisioning answers
// 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    StatusProvisioning,
		Workspace: s.handle.Workspace().Name(),
		Ready:     s.handle.Ready().Fired(),
		Version:   version.Short(),
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	switch {
	case resp.Ready:
		resp.Status = StatusReady
	case s.engine != nil && s.engine.ProvisionErr() != nil:
		resp.Status = StatusDegraded
		resp.Error = s.engine.ProvisionErr().Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(r.Context(), w, code, resp)
}

// FileNode is the JSON view of a workspace node.
type FileNode struct {
	ID       workspace.NodeID `json:"id"`
	Name     string           `json:"name"`
	Path     string           `json:"path"`
	Kind     string           `json:"kind"`
	Language string           `json:"language,omitempty"`
	Children []FileNode       `json:"children,omitempty"`
}

// WorkspaceResponse is the body of GET /api/workspace.
type WorkspaceResponse struct {
	Name       string            `json:"name"`
	Tree       []FileNode        `json:"tree"`
	Selected   string            `json:"selected,omitempty"`
	Shells     []workspace.Shell `json:"shells"`
	Appearance theme.Appearance  `json:"appearance"`
	Ready      bool              `json:"ready"`
}

func fileNodes(nodes []*workspace.Node, prefix string) []FileNode {
	out := make([]FileNode, 0, len(nodes))
	for _, n := range nodes {
		p := n.Name()
		if prefix != "" {
			p = prefix + "/" + p
		}
		fn := FileNode{
			ID:       n.ID(),
			Name:     n.Name(),
			Path:     p,
			Kind:     n.Kind().String(),
			Language: n.Language(),
		}
		if n.IsDirectory() {
			fn.Language = ""
			fn.Children = fileNodes(n.Children(), p)
		}
		out = append(out, fn)
	}
	return out
}

// HandleWorkspace returns the current tree and session state.
func (s *Server) HandleWorkspace(w http.ResponseWriter, r *http.Request) {
	ws := s.handle.Workspace()
	resp := WorkspaceResponse{
		Name:       ws.Name(),
		Tree:       fileNodes(ws.Tree(), ""),
		Shells:     ws.Shells(),
		Appearance: s.handle.Appearance(),
		Ready:      s.handle.Ready().Fired(),
	}
	if sel := s.handle.Selected(); sel != nil {
		if p, err := ws.PathTo(sel); err == nil {
			resp.Selected = p
		}
	}
	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// FileRequest is the body of POST /api/files.
type FileRequest struct {
	// Op is one of create, rename or remove.
	Op string `json:"op"`
	// Path is the target of rename and remove, and the parent directory of
	// create. An empty parent means the workspace root.
	Path string `json:"path"`
	Name string `json:"name"`
	// Kind is file or directory; create only.
	Kind string `json:"kind"`
}

// HandleFiles creates, renames or removes a node.
func (s *Server) HandleFiles(w http.ResponseWriter, r *http.Request) {
	var req FileRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	ws := s.handle.Workspace()

	switch req.Op {
	case "create":
		kind := workspace.KindFile
		switch req.Kind {
		case "", "file":
		case "directory":
			kind = workspace.KindDirectory
		default:
			s.writeError(ctx, w, errors.NewValidationError(errors.ReasonUnsupportedType, "unknown kind "+req.Kind))
			return
		}
		var parent *workspace.Node
		if req.Path != "" {
			var err error
			if parent, err = ws.Resolve(req.Path); err != nil {
				s.writeError(ctx, w, err)
				return
			}
		}
		node, err := s.handle.CreateFile(ctx, req.Name, kind, parent)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		s.writeNode(ctx, w, http.StatusCreated, node)

	case "rename":
		node, err := ws.Resolve(req.Path)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		renamed, err := s.handle.RenameFile(ctx, node, req.Name)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		s.writeNode(ctx, w, http.StatusOK, renamed)

	case "remove":
		node, err := ws.Resolve(req.Path)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		if err := s.handle.RemoveFile(ctx, node); err != nil {
			s.writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.writeError(ctx, w, errors.NewValidationError(errors.ReasonUnsupportedType, "unknown operation "+req.Op))
	}
}

func (s *Server) writeNode(ctx context.Context, w http.ResponseWriter, code int, node *workspace.Node) {
	ws := s.handle.Workspace()
	p, err := ws.PathTo(node)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	prefix := path.Dir(p)
	if prefix == "." {
		prefix = ""
	}
	s.writeJSON(ctx, w, code, fileNodes([]*workspace.Node{node}, prefix)[0])
}

type pathRequest struct {
	Path string `json:"path"`
}

// HandleSelect selects the file at path. An empty path clears the
// selection.
func (s *Server) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		_ = s.handle.Select(nil)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	node, err := s.handle.SelectPath(req.Path)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeNode(r.Context(), w, http.StatusOK, node)
}

type themeRequest struct {
	Appearance string `json:"appearance"`
}

// HandleTheme switches the session appearance.
func (s *Server) HandleTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if !s.decode(w, r, &req) {
		return
	}
	appearance, err := theme.ParseAppearance(req.Appearance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.handle.SetTheme(appearance)
	w.WriteHeader(http.StatusNoContent)
}

type formatResponse struct {
	Changed bool `json:"changed"`
}

// HandleFormat runs the formatter over the buffer of path.
func (s *Server) HandleFormat(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	full := s.handle.Workspace().RelativePath(req.Path)
	changed, err := s.handle.Editor().Format(ctx, full)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, formatResponse{Changed: changed})
}

// HandlePlugins lists the background plugins and their health.
func (s *Server) HandlePlugins(w http.ResponseWriter, r *http.Request) {
	infos := []plugins.PluginInfo{}
	if s.supervisor != nil {
		infos = s.supervisor.List()
	}
	s.writeJSON(r.Context(), w, http.StatusOK, infos)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(ctx, err, "Failed to encode response")
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch errors.Classify(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindAlreadyExists:
		return http.StatusConflict
	case errors.KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, err, "Request failed")
	}
	s.writeJSON(ctx, w, code, errorBody(err))
}
