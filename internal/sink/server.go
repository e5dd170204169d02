// Package sink implements a local SMTP relay that accepts submissions and
// hands each parsed message to a Deliverer instead of forwarding it. Point
// the smtp provider at it to exercise the full dispatch path without sending
// real mail.
package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/multimail/internal/email"
)

// shutdownTimeout bounds how long Serve waits for open sessions on shutdown.
const shutdownTimeout = 30 * time.Second

// defaultMaxMessageSize is 25 MB.
const defaultMaxMessageSize = 25 << 20

// Deliverer receives every message the sink accepts.
type Deliverer interface {
	Deliver(ctx context.Context, msg *email.Email) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, msg *email.Email) error

// Deliver calls f(ctx, msg).
func (f DeliverFunc) Deliver(ctx context.Context, msg *email.Email) error {
	return f(ctx, msg)
}

// Config holds the sink settings.
type Config struct {
	// ListenAddr is the TCP address to listen on, e.g. ":2525".
	ListenAddr string

	// Hostname is announced in the greeting and EHLO reply.
	Hostname string

	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config

	// Username and Password require SMTP AUTH when both are set.
	Username string
	Password string

	// MaxMessageSize caps DATA payloads in bytes.
	MaxMessageSize int64

	Deliverer Deliverer
}

// Server accepts SMTP connections, one goroutine per session.
type Server struct {
	cfg  Config
	auth *Authenticator

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a Server. A nil Deliverer discards messages.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Deliverer == nil {
		cfg.Deliverer = DeliverFunc(func(context.Context, *email.Email) error { return nil })
	}

	return &Server{
		cfg:  cfg,
		auth: NewAuthenticator(cfg.Username, cfg.Password),
	}
}

// Listen binds the listening socket. It is separate from Serve so callers
// can read Addr before accepting connections.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is cancelled, then waits for open
// sessions for at most shutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("sink: Serve called before Listen")
	}

	slog.Info("SMTP sink listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.cfg.TLSConfig != nil,
	)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down SMTP sink")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitForSessions()
				return nil
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).serve(ctx)
		}()
	}
}

// ListenAndServe binds ListenAddr and serves until ctx is cancelled.
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

func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sink sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("sink shutdown timeout reached, forcing close")
	}
}
