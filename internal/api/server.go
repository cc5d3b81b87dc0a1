package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/auth"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/config"
)

// Deps are the collaborators the server exposes.
type Deps struct {
	State    StatePort
	Routing  RoutingPort
	Handler  ConnectionHandler
	Reporter ErrorReporter
	Auth     *auth.Middleware
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	config     *config.Config
	deps       Deps
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	startTime  time.Time

	mu      sync.Mutex
	clients map[*wsConn]struct{}
	wg      sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewMiddleware(nil)
	}
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Viewer UIs are served from other origins.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		startTime: time.Now(),
		clients:   make(map[*wsConn]struct{}),
	}
}

// Handler returns the routed handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server and closes every WebSocket.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	clients := make([]*wsConn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			err = fmt.Errorf("failed to shutdown HTTP server: %w", serr)
		}
	}

	// Hijacked connections are not tracked by Shutdown.
	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("websocket connections did not close in time")
	}
	return err
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
