package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gamedesk/internal/metrics"
)

// ConnHandler serves one accepted connection.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn, privileged bool)
}

// Acceptor accepts connections on one listener and serves them from a
// fixed pool of workers. When every worker is busy, accepting stops and new
// connections wait in the kernel backlog.
type Acceptor struct {
	name       string
	privileged bool
	workers    int
	handler    ConnHandler
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// NewAcceptor creates an Acceptor. name labels logs and metrics.
func NewAcceptor(name string, privileged bool, workers int, handler ConnHandler, logger *slog.Logger, m *metrics.Metrics) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Acceptor{
		name:       name,
		privileged: privileged,
		workers:    workers,
		handler:    handler,
		logger:     logger.With("listener", name),
		metrics:    m,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Serve accepts on ln until ctx is cancelled or Accept fails, then waits
// for the workers to finish. Cancellation closes the listener and every
// connection still being served, and returns nil.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		a.closeConns()
	})
	defer stop()

	var g errgroup.Group
	g.SetLimit(a.workers)

	a.logger.Info("accepting connections", "addr", ln.Addr().String(), "workers", a.workers, "privileged", a.privileged)
	for {
		conn, err := ln.Accept()
		if err != nil {
			_ = g.Wait()
			if ctx.Err() != nil {
				a.logger.Info("listener stopped")
				return nil
			}
			a.logger.Error("accept failed", "error", err)
			return fmt.Errorf("%s listener: %w", a.name, err)
		}
		a.metrics.ConnOpened(a.name)
		counted := newCountedConn(conn, func() { a.metrics.ConnClosed(a.name) })
		if !a.track(counted) {
			_ = counted.Close()
			continue
		}

		// Blocks while the pool is full.
		g.Go(func() error {
			defer a.untrack(counted)
			a.handler.ServeConn(ctx, counted, a.privileged)
			return nil
		})
	}
}

// countedConn reports its first Close, so a connection stays counted as
// open for as long as its socket is, including after a WebSocket upgrade
// hands it from the worker to the hub.
type countedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func newCountedConn(conn net.Conn, onClose func()) *countedConn {
	return &countedConn{Conn: conn, onClose: onClose}
}

// Close closes the socket and reports the close once.
func (c *countedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.onClose)
	return err
}

// CloseWrite half-closes the socket when the transport supports it.
func (c *countedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

// Active returns the number of connections currently held by workers.
func (a *Acceptor) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// track registers conn for closing on cancellation. It refuses once the
// acceptor is shutting down.
func (a *Acceptor) track(conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.conns[conn] = struct{}{}
	return true
}

// untrack forgets conn once its worker is done with it. Upgraded
// connections live on in the hub.
func (a *Acceptor) untrack(conn net.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
}

// closeConns closes every tracked connection and refuses new ones.
func (a *Acceptor) closeConns() {
	a.mu.Lock()
	a.closing = true
	conns := make([]net.Conn, 0, len(a.conns))
	for conn := range a.conns {
		conns = append(conns, conn)
	}
	a.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
