package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shineum/multimail/internal/provider"
)

// shutdownTimeout bounds how long in-flight sends may run after shutdown
// starts.
const shutdownTimeout = 30 * time.Second

// Server runs the dispatch endpoint over HTTP.
type Server struct {
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server listening on addr and sending through p.
func NewServer(addr string, p provider.Provider) *Server {
	gin.SetMode(gin.ReleaseMode)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(p),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Listen binds the listening socket so Addr is known before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve handles requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("dispatch: Serve called before Listen")
	}

	slog.Info("dispatch endpoint listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down dispatch endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("dispatch shutdown timeout reached, forcing close", "error", err)
		return s.httpServer.Close()
	}
	return nil
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
