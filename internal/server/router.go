package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
	"golang.org/x/net/netutil"
)

// Router owns the HTTP server lifecycle and route registration.
//
// Invariants:
//   - mux and handlers are never nil after construction
//   - httpServer is nil only before Start or after Shutdown
//   - isShutdown and listener are protected by serverMutex
type Router struct {
	config     *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	chain      *Chain
	handlers   Handlers
	logger     logging.Logger

	serverMutex sync.RWMutex
	listener    net.Listener
	isShutdown  bool
}

// Handlers is the set of HTTP handlers the router serves.
type Handlers interface {
	HandleIndex(w http.ResponseWriter, r *http.Request)
	HandleHealth(w http.ResponseWriter, r *http.Request)

	HandleWorkspace(w http.ResponseWriter, r *http.Request)
	HandleFiles(w http.ResponseWriter, r *http.Request)
	HandleSelect(w http.ResponseWriter, r *http.Request)
	HandleTheme(w http.ResponseWriter, r *http.Request)
	HandleFormat(w http.ResponseWriter, r *http.Request)
	HandlePlugins(w http.ResponseWriter, r *http.Request)

	HandleEditorSocket(w http.ResponseWriter, r *http.Request)
	HandleTerminalSocket(w http.ResponseWriter, r *http.Request)
}

// NewRouter registers every route and wraps the mux in the default
// middleware chain. It panics on nil dependencies.
func NewRouter(cfg *config.Config, handlers Handlers, logger logging.Logger) *Router {
	if cfg == nil {
		panic("Router: config cannot be nil")
	}
	if handlers == nil {
		panic("Router: handlers cannot be nil")
	}

	r := &Router{
		config:   cfg,
		mux:      http.NewServeMux(),
		handlers: handlers,
		logger:   logger.WithComponent("http"),
	}
	r.chain = defaultChain(cfg.Server.AllowedOrigins, r.logger)
	r.registerRoutes()

	r.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r
}

func (r *Router) registerRoutes() {
	r.mux.HandleFunc("GET /{$}", r.handlers.HandleIndex)
	r.mux.HandleFunc("GET /healthz", r.handlers.HandleHealth)
	r.mux.Handle("GET /metrics", metrics.Handler())

	r.mux.HandleFunc("GET /api/workspace", r.handlers.HandleWorkspace)
	r.mux.HandleFunc("POST /api/files", r.handlers.HandleFiles)
	r.mux.HandleFunc("POST /api/select", r.handlers.HandleSelect)
	r.mux.HandleFunc("POST /api/theme", r.handlers.HandleTheme)
	r.mux.HandleFunc("POST /api/format", r.handlers.HandleFormat)
	r.mux.HandleFunc("GET /api/plugins", r.handlers.HandlePlugins)

	r.mux.HandleFunc("GET /ws/editor", r.handlers.HandleEditorSocket)
	r.mux.HandleFunc("GET /ws/terminal", r.handlers.HandleTerminalSocket)
}

// Handler returns the mux with middleware applied.
func (r *Router) Handler() http.Handler {
	return r.chain.Apply(r.mux)
}

// Start listens on the configured address and serves until ctx is cancelled
// or the server fails. Concurrent connections are capped at
// Server.MaxConnections.
func (r *Router) Start(ctx context.Context) error {
	r.serverMutex.Lock()
	if r.isShutdown {
		r.serverMutex.Unlock()
		return fmt.Errorf("router has been shut down")
	}
	server := r.httpServer
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		r.serverMutex.Unlock()
		return fmt.Errorf("listening on %s: %w", server.Addr, err)
	}
	if limit := r.config.Server.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}
	r.listener = ln
	r.serverMutex.Unlock()

	r.logger.Info(ctx, "Serving playground", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return r.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server. It is idempotent.
func (r *Router) Shutdown(ctx context.Context) error {
	r.serverMutex.Lock()
	defer r.serverMutex.Unlock()

	if r.isShutdown {
		return nil
	}
	r.isShutdown = true

	if err := r.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (r *Router) Addr() string {
	r.serverMutex.RLock()
	defer r.serverMutex.RUnlock()

	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.httpServer.Addr
}

// IsShutdown reports whether Shutdown was called.
func (r *Router) IsShutdown() bool {
	r.serverMutex.RLock()
	defer r.serverMutex.RUnlock()
	return r.isShutdown
}
