package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gamedesk/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	GMAddr     string
	PlayerAddr string
	// Workers is the pool size of each listener.
	Workers int
	// MetricsAddr enables the metrics listener when set.
	MetricsAddr string
}

// Server owns the GM and player listeners. Both share one Router and one
// Hub; only the privilege flag differs.
type Server struct {
	opts    Options
	handler ConnHandler
	hub     *Hub
	logger  *slog.Logger
	metrics *metrics.Metrics

	gm     *Acceptor
	player *Acceptor

	gmLn     net.Listener
	playerLn net.Listener
}

// New creates a Server. Nothing is bound until Start or Run.
func New(opts Options, handler ConnHandler, hub *Hub, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		handler: handler,
		hub:     hub,
		logger:  logger,
		metrics: m,
		gm:      NewAcceptor("gm", true, opts.Workers, handler, logger, m),
		player:  NewAcceptor("player", false, opts.Workers, handler, logger, m),
	}
}

// Start binds both listeners. Failing to bind either one is fatal.
func (s *Server) Start() error {
	gm, err := net.Listen("tcp", s.opts.GMAddr)
	if err != nil {
		return fmt.Errorf("bind gm listener %s: %w", s.opts.GMAddr, err)
	}
	player, err := net.Listen("tcp", s.opts.PlayerAddr)
	if err != nil {
		_ = gm.Close()
		return fmt.Errorf("bind player listener %s: %w", s.opts.PlayerAddr, err)
	}
	s.gmLn, s.playerLn = gm, player
	return nil
}

// GMAddr returns the bound address of the privileged listener.
func (s *Server) GMAddr() net.Addr {
	if s.gmLn == nil {
		return nil
	}
	return s.gmLn.Addr()
}

// PlayerAddr returns the bound address of the player listener.
func (s *Server) PlayerAddr() net.Addr {
	if s.playerLn == nil {
		return nil
	}
	return s.playerLn.Addr()
}

// Run serves until ctx is cancelled. A failing listener stops on its own;
// the other keeps serving. Subscribers are disconnected on the way out.
func (s *Server) Run(ctx context.Context) error {
	if s.gmLn == nil {
		if err := s.Start(); err != nil {
			return err
		}
	}

	var g errgroup.Group
	g.Go(func() error { return s.gm.Serve(ctx, s.gmLn) })
	g.Go(func() error { return s.player.Serve(ctx, s.playerLn) })

	if s.opts.MetricsAddr != "" && s.metrics != nil {
		srv := CreateMetricsServer(s.opts.MetricsAddr, s.metrics)
		stop := context.AfterFunc(ctx, func() {
			if err := ShutdownServer(srv, shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Warn("metrics shutdown", "error", err)
			}
		})
		defer stop()
		g.Go(func() error { return StartMetricsServer(srv, s.logger) })
	}

	err := g.Wait()
	s.hub.Shutdown()
	s.logger.Info("server stopped")
	return err
}
