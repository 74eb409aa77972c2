// Package relay runs the relay's HTTP listener and ties its lifetime to the
// connection registry.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gaia-relay/backend/internal/ws"
)

// Config holds configuration for the listener.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
}

// Server accepts connections until its context is cancelled, then closes
// every live relay connection.
type Server struct {
	cfg      Config
	handler  http.Handler
	registry *ws.Registry
	logger   zerolog.Logger
}

// NewServer creates a new Server.
func NewServer(cfg Config, handler http.Handler, registry *ws.Registry, logger zerolog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		cfg:      cfg,
		handler:  handler,
		registry: registry,
		logger:   logger.With().Str("module", "relay").Logger(),
	}
}

// Run binds the configured address and serves on it.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections accepted from ln until ctx is cancelled or the
// listener fails. It then stops accepting and shuts the registry down.
// Shutdown problems are logged; Serve returns nil once both are done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("accept loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		// Hijacked relay sockets are not tracked by http.Server; the registry closes them.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown")
		}
		if err := s.registry.Shutdown(); err != nil {
			s.logger.Error().Err(err).Msg("registry shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("listener stopped")
	}
	s.logger.Info().Msg("relay stopped")
	return nil
}
