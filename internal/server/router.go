package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tyrowin/gamedesk/internal/content"
	"github.com/Tyrowin/gamedesk/internal/logging"
	"github.com/Tyrowin/gamedesk/internal/metrics"
)

// Request kinds reported to metrics.
const (
	kindStatic  = "static"
	kindListing = "listing"
	kindDynamic = "dynamic"
	kindError   = "error"
	kindSocket  = "socket"
)

const (
	methodHead = "HEAD"

	// lingerTimeout bounds how long unread request bytes are drained after
	// the response, so the close does not reset the connection under it.
	lingerTimeout = 500 * time.Millisecond
)

var errMalformedRequest = errors.New("malformed request line")

// RouterConfig wires a Router to its collaborators.
type RouterConfig struct {
	// Root is the web root for static files and error.html.
	Root     string
	Registry *content.Registry
	Hub      *Hub
	// Renderer renders generated directory listings.
	Renderer content.Renderer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// ReadTimeout bounds the request line read. Zero disables it.
	ReadTimeout time.Duration
}

// Router answers exactly one request per connection.
type Router struct {
	root        string
	registry    *content.Registry
	hub         *Hub
	renderer    content.Renderer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	readTimeout time.Duration
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		root:        cfg.Root,
		registry:    cfg.Registry,
		hub:         cfg.Hub,
		renderer:    cfg.Renderer,
		logger:      logger,
		metrics:     cfg.Metrics,
		readTimeout: cfg.ReadTimeout,
	}
}

// ServeConn reads one request line from conn and answers it. Upgraded
// connections are handed to the hub and stay open; every other connection
// is closed once the response is written.
func (r *Router) ServeConn(ctx context.Context, conn net.Conn, privileged bool) {
	connID := logging.NewConnID()
	logger := logging.WithConn(r.logger, connID).With("privileged", privileged)

	if r.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	}
	br := bufio.NewReader(conn)
	method, target, err := readRequestLine(br)
	if r.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}

	if err == nil && strings.HasPrefix(target, SocketPrefix) {
		r.upgrade(conn, br, strings.TrimPrefix(target, SocketPrefix), connID, logger)
		return
	}

	bw := bufio.NewWriter(conn)
	if err != nil {
		logging.WithError(logger, err).Debug("rejecting request")
		r.metrics.Request(kindError)
		err = r.serveError(bw, false)
	} else {
		logger.Debug("request", "method", method, "target", target)
		err = r.route(ctx, bw, method == methodHead, target, privileged, logger)
	}

	var fault *HandlerFault
	switch {
	case errors.As(err, &fault):
		logging.WithError(logger, fault.Err).Error("handler fault", "handler", fault.Key)
		r.metrics.HandlerFault(fault.Key)
	case err != nil && !isExpectedCloseError(err):
		logging.WithError(logger, err).Warn("response failed", "target", target)
	}
	lingeringClose(conn)
}

// upgrade hands conn to the hub as a subscriber of channel.
func (r *Router) upgrade(conn net.Conn, br *bufio.Reader, channel, connID string, logger *slog.Logger) {
	r.metrics.Request(kindSocket)
	if _, err := r.hub.Upgrade(conn, br, channel, connID); err != nil {
		logging.WithError(logger, err).Info("upgrade failed", "channel", channel)
		lingeringClose(conn)
	}
}

// route classifies the target: static file, directory index, listing,
// dynamic handler or the error page, in that order.
func (r *Router) route(ctx context.Context, w *bufio.Writer, head bool, target string, privileged bool, logger *slog.Logger) error {
	rel := normalizeTarget(target)
	p, _ := splitQuery(rel)
	if path.Base(p) == "favicon.ico" {
		p = strings.TrimSuffix(p, "favicon.ico") + "favicon.png"
	}
	file := resolvePath(r.root, p)
	ct := mimeType(p)

	if ct != "" && isReadableFile(file) {
		r.metrics.Request(kindStatic)
		return serveFile(w, head, ct, file)
	}
	if isReadableDir(file) {
		if index := filepath.Join(file, indexFile); isReadableFile(index) {
			r.metrics.Request(kindStatic)
			return serveFile(w, head, contentTypeHTML, index)
		}
		if privileged && ct == "" {
			r.metrics.Request(kindListing)
			return r.serveListing(w, head, file, strings.Trim(p, "/"))
		}
	}

	key, params := parseDynamic(rel)
	if key == "" || !r.registry.Has(key) {
		r.metrics.Request(kindError)
		return r.serveError(w, head)
	}
	h, err := r.registry.Lookup(key)
	if err != nil {
		logging.WithError(logger, err).Error("handler unavailable", "handler", key)
		r.metrics.Request(kindError)
		return r.serveError(w, head)
	}
	r.metrics.Request(kindDynamic)
	return r.serveDynamic(ctx, w, head, key, h, params, privileged)
}

// readRequestLine reads "METHOD TARGET ..." after percent-decoding the
// whole line.
func readRequestLine(r *bufio.Reader) (method, target string, err error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", "", &ProtocolError{Err: err}
	}
	line = strings.TrimRight(line, "\r\n")
	decoded, err := url.QueryUnescape(line)
	if err != nil {
		return "", "", &ProtocolError{Line: line, Err: err}
	}
	fields := strings.Fields(decoded)
	if len(fields) < 2 {
		return "", "", &ProtocolError{Line: line, Err: errMalformedRequest}
	}
	return fields[0], fields[1], nil
}

// isReadableFile reports whether name opens as a regular file.
func isReadableFile(name string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

// isReadableDir reports whether name opens as a directory.
func isReadableDir(name string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	return err == nil && info.IsDir()
}

// lingeringClose half-closes the connection, drains what the client still
// sends for a short while, then closes it.
func lingeringClose(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err == nil {
			_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
			_, _ = io.Copy(io.Discard, conn)
		}
	}
	_ = conn.Close()
}
