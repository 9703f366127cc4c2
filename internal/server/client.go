package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const writeWait = 10 * time.Second

var errClientClosed = errors.New("client closed")

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

type flusher interface {
	Flush() error
}

// Client is one WebSocket subscriber. After the handshake the connection is
// a write-only push sink: nothing is ever read from it again.
type Client struct {
	conn    io.WriteCloser
	id      string
	addr    string
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection subscribed to channel.
func NewClient(conn io.WriteCloser, id, addr, channel string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:    conn,
		id:      id,
		addr:    addr,
		channel: channel,
		logger:  logger,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Channel returns the channel the client subscribed to.
func (c *Client) Channel() string { return c.channel }

// send writes one encoded frame and flushes it when the sink buffers.
// Frames from concurrent publishes never interleave.
func (c *Client) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}

	if d, ok := c.conn.(deadlineWriter); ok {
		if err := d.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	if f, ok := c.conn.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// closeConnection closes the underlying connection once.
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing subscriber", "addr", c.addr, "error", err)
	}
}
