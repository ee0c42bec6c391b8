// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

// Media drop server: a landing page, a listing of dropped audio/video files and a static file server.

package mediadrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// logger is the package logger. Use WithLogger or SetDefaultLogger to replace it.
var logger = slog.Default()

// DefaultLogger returns the logger used by the server package.
func DefaultLogger() *slog.Logger {
	return logger
}

// SetDefaultLogger overrides the logger used by the server package.
func SetDefaultLogger(l *slog.Logger) {
	if l == nil {
		logger = slog.Default()
		return
	}
	logger = l
}

const shutdownGracePeriod = 5 * time.Second

// Server routes requests to the landing page, the media listings and the static file server.
type Server struct {
	Options *ServerOptions

	root     string // absolute, cleaned
	mediaDir string // absolute, cleaned, inside root
	lister   *Lister
	upgrader websocket.Upgrader

	middleware   MiddlewareStack
	httpServer   *http.Server
	healthServer *http.Server

	isReady   atomic.Bool
	isRunning atomic.Bool

	// Server metrics
	totalRequests     atomic.Uint64
	totalResponseTime atomic.Int64
	serverStart       time.Time

	limitersMu     sync.Mutex
	clientLimiters map[string]*rateLimiterEntry
}

// NewServer creates a new instance of the Server.
func NewServer(opts ...ServerOptionFunc) (*Server, error) {
	srv := &Server{
		Options:        NewServerOptions(),
		clientLimiters: make(map[string]*rateLimiterEntry),
	}

	for _, opt := range opts {
		opt(srv)
	}

	root, err := filepath.Abs(srv.Options.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving root directory %q: %w", srv.Options.RootDir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root directory %q is not a directory", root)
	}
	srv.root = root

	mediaDir := srv.Options.MediaDir
	if !filepath.IsAbs(mediaDir) {
		mediaDir = filepath.Join(root, mediaDir)
	}
	mediaDir = filepath.Clean(mediaDir)
	if !within(root, mediaDir) {
		return nil, fmt.Errorf("media directory %q is outside root %q", mediaDir, root)
	}
	srv.mediaDir = mediaDir
	srv.lister = NewLister(mediaDir)

	srv.middleware = DefaultMiddleware(srv)
	if srv.Options.CORS != nil && len(srv.Options.CORS.AllowedOrigins) > 0 {
		srv.middleware = append(srv.middleware, CORSMiddleware(srv.Options.CORS))
	}
	if srv.Options.SecureHeaders {
		srv.middleware = append(srv.middleware, HeadersMiddleware)
	}
	if srv.Options.RateLimit > 0 {
		srv.middleware = append(srv.middleware, RateLimitMiddleware(srv))
	}

	logger.Debug("Server configured.", "root", srv.root, "media-dir", srv.mediaDir, "port", srv.Options.Port)
	return srv, nil
}

// Root returns the absolute directory the server serves from.
func (srv *Server) Root() string {
	return srv.root
}

// MediaDir returns the absolute media directory.
func (srv *Server) MediaDir() string {
	return srv.mediaDir
}

// Addr returns the listen address derived from the configured port.
func (srv *Server) Addr() string {
	return ":" + strconv.Itoa(srv.Options.Port)
}

// URL returns the address operators can open in a browser.
func (srv *Server) URL() string {
	return "http://localhost:" + strconv.Itoa(srv.Options.Port)
}

// With appends middleware to the stack. It panics once the server is running.
func (srv *Server) With(middleware ...MiddlewareFunc) *Server {
	if srv.isRunning.Load() {
		panic("Cannot change middleware after server has started.")
	}
	srv.middleware = append(srv.middleware, middleware...)
	return srv
}

// Handler returns the router wrapped in the configured middleware stack.
func (srv *Server) Handler() http.Handler {
	return chainMiddleware(srv, srv.middleware)
}

// Run listens on the configured port and blocks until SIGINT or SIGTERM, then shuts down gracefully.
func (srv *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := srv.Listen()
	if err != nil {
		return err
	}
	return srv.Serve(ctx, ln)
}

// Listen binds the configured port. Pass the listener to Serve.
func (srv *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", srv.Addr(), err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv.serverStart = time.Now()
	srv.httpServer = &http.Server{
		Handler: srv.Handler(),
	}
	srv.httpServer.RegisterOnShutdown(srv.Shutdown)

	if srv.Options.RunHealthServer {
		srv.initHealthServer()
		go func() {
			if err := srv.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Health server failed", "error", err)
			}
		}()
	}

	srv.isReady.Store(true)
	srv.isRunning.Store(true)
	defer srv.isRunning.Store(false)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started.", "addr", ln.Addr().String(), "root", srv.root)
		errCh <- srv.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		srv.isReady.Store(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	srv.isReady.Store(false)
	logger.Info("received signal to shutdown server. Stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if srv.healthServer != nil {
		if err := srv.healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Health server forced to shutdown.", "error", err)
		}
	}
	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown.", "error", err)
		return err
	}
	return nil
}

// Shutdown logs the request metrics collected while running.
func (srv *Server) Shutdown() {
	logger.Info("Server is shut down.", srv.metricsAttrs()...)
}

// metricsAttrs summarizes the request metrics as log attributes.
func (srv *Server) metricsAttrs() []any {
	total := srv.totalRequests.Load()
	resp := srv.totalResponseTime.Load()
	avg := 0.0
	if total != 0 {
		avg = float64(resp) / float64(total)
	}
	return []any{"up-time", time.Since(srv.serverStart), "µs-in-handlers", resp, "total-req", total,
		"avg-µs-per-req", avg}
}

// helper function to initialise the health server
func (srv *Server) initHealthServer() {
	healthMux := http.NewServeMux()
	srv.healthServer = &http.Server{
		Addr:    srv.Options.HealthAddr,
		Handler: healthMux,
	}
	logger.Info("Health server initialised.", "addr", srv.Options.HealthAddr)

	// add built-in probing endpoints
	healthMux.HandleFunc("/healthz/", srv.healthzHandler)
	healthMux.HandleFunc("/readyz/", srv.readyzHandler)
	healthMux.HandleFunc("/livez/", srv.livezHandler)
}
