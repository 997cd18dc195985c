package server

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/errors"
)

// Editor socket message types.
const (
	MsgModel           = "model"
	MsgTheme           = "theme"
	MsgCompilerOptions = "compilerOptions"
	MsgExtraLib        = "extraLib"
	MsgNotification    = "notification"
	MsgError           = "error"

	MsgEdit      = "edit"
	MsgViewState = "viewState"
	MsgSelect    = "select"
	MsgFormat    = "format"
)

// ModelMessage carries a model switch to the browser.
type ModelMessage struct {
	Model     editor.Model     `json:"model"`
	ViewState editor.ViewState `json:"viewState"`
}

// EditMessage is a user edit of the buffer at Path.
type EditMessage struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ViewStateMessage saves the presentation state of Path.
type ViewStateMessage struct {
	Path      string           `json:"path"`
	ViewState editor.ViewState `json:"viewState"`
}

// editorClient forwards the editor manager's surface calls to one browser.
type editorClient struct {
	*client
}

func (e *editorClient) SetModel(m editor.Model, vs editor.ViewState) {
	e.sendJSON(MsgModel, ModelMessage{Model: m, ViewState: vs})
}

func (e *editorClient) SetTheme(name string) {
	e.sendJSON(MsgTheme, name)
}

func (e *editorClient) SetCompilerOptions(opts editor.CompilerOptions) {
	e.sendJSON(MsgCompilerOptions, opts)
}

func (e *editorClient) AddExtraLib(lib editor.ExtraLib) {
	e.sendJSON(MsgExtraLib, lib)
}

func (e *editorClient) Notify(n editor.Notification) {
	e.sendJSON(MsgNotification, n)
}

func (e *editorClient) Dispose() {
	e.drop(websocket.StatusNormalClosure, "editor detached")
}

// HandleEditorSocket attaches the browser editor as a surface of the session
// editor. Buffer edits, view states and selections flow back over the same
// socket.
func (s *Server) HandleEditorSocket(w http.ResponseWriter, r *http.Request) {
	c, ok := s.sockets.accept(w, r, "editor")
	if !ok {
		return
	}
	defer s.sockets.release(c)

	detach := s.handle.Editor().Attach(&editorClient{client: c})
	defer detach()

	readLoop(c, func(typ websocket.MessageType, data []byte) {
		if typ != websocket.MessageText {
			return
		}
		if err := s.handleEditorMessage(c, data); err != nil {
			c.logger.Debug(c.ctx, "Editor message rejected", "error", err)
			c.sendJSON(MsgError, errorBody(err))
		}
	})
}

func (s *Server) handleEditorMessage(c *client, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.NewValidationError(errors.ReasonMalformed, "malformed message")
	}
	ed := s.handle.Editor()

	switch env.Type {
	case MsgEdit:
		var msg EditMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return errors.NewValidationError(errors.ReasonMalformed, "malformed edit")
		}
		_, err := ed.Edit(msg.Path, msg.Content)
		return err

	case MsgViewState:
		var msg ViewStateMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return errors.NewValidationError(errors.ReasonMalformed, "malformed view state")
		}
		ed.SaveViewState(msg.Path, msg.ViewState)
		return nil

	case MsgSelect:
		var msg pathRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return errors.NewValidationError(errors.ReasonMalformed, "malformed selection")
		}
		if msg.Path == "" {
			return s.handle.Select(nil)
		}
		_, err := s.handle.SelectPath(msg.Path)
		return err

	case MsgFormat:
		var msg pathRequest
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return errors.NewValidationError(errors.ReasonMalformed, "malformed format request")
		}
		_, err := ed.Format(c.ctx, msg.Path)
		return err

	default:
		return errors.NewValidationError(errors.ReasonUnsupportedType, "unknown message type "+env.Type)
	}
}

func errorBody(err error) errorResponse {
	resp := errorResponse{Error: err.Error(), Kind: errors.Classify(err).String()}
	if reason, ok := errors.ReasonOf(err); ok {
		resp.Reason = string(reason)
	}
	return resp
}
