package server

import (
	"bufio"
	"log/slog"
	"net"
	"sync"

	"github.com/Tyrowin/gamedesk/internal/logging"
	"github.com/Tyrowin/gamedesk/internal/metrics"
)

// Hub tracks WebSocket subscribers per channel and fans out text pushes.
// It lives for the whole process and is shared by every listener.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Client]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		logger:   logger,
		metrics:  m,
	}
}

// Upgrade completes the handshake on conn, whose request line has already
// been consumed from r, and registers the connection under channel.
func (h *Hub) Upgrade(conn net.Conn, r *bufio.Reader, channel, connID string) (*Client, error) {
	key, err := readHandshakeKey(r)
	if err != nil {
		return nil, err
	}
	if err := writeHandshake(conn, AcceptKey(key)); err != nil {
		return nil, err
	}

	client := NewClient(conn, connID, conn.RemoteAddr().String(), channel,
		logging.WithChannel(logging.WithConn(h.logger, connID), channel))
	h.Register(client)
	return client, nil
}

// Register adds a client to its channel.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	set, ok := h.channels[client.channel]
	if !ok {
		set = make(map[*Client]struct{})
		h.channels[client.channel] = set
	}
	set[client] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	client.logger.Info("subscriber registered", "addr", client.addr, "subscribers", count)
}

// Publish pushes text to every subscriber of channel and returns how many
// writes succeeded. Subscribers whose write fails are dropped after the
// sweep. Publishing to a channel nobody listens on is a no-op.
func (h *Hub) Publish(channel, text string) int {
	clients := h.getClientSnapshot(channel)
	if len(clients) == 0 {
		h.logger.Debug("no subscribers", "channel", channel)
		return 0
	}

	frame := EncodeFrame([]byte(text))
	var failed []*Client
	for _, client := range clients {
		if err := client.send(frame); err != nil {
			client.logger.Info("subscriber write failed", "addr", client.addr, "error", err)
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(channel, failed)

	delivered := len(clients) - len(failed)
	h.metrics.FramesWritten(delivered, len(failed))
	h.logger.Debug("published", "channel", channel, "delivered", delivered, "dropped", len(failed))
	return delivered
}

// Count returns the number of subscribers on channel.
func (h *Hub) Count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// getClientSnapshot returns the current subscribers of channel.
func (h *Hub) getClientSnapshot(channel string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.channels[channel]
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients unregisters and closes dead subscribers.
func (h *Hub) removeFailedClients(channel string, failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	removed := 0
	set := h.channels[channel]
	for _, client := range failed {
		if _, ok := set[client]; ok {
			delete(set, client)
			removed++
		}
	}
	if len(set) == 0 {
		delete(h.channels, channel)
	}
	h.mu.Unlock()

	for _, client := range failed {
		client.closeConnection()
	}
	h.metrics.SubscribersRemoved(removed)
}

// Shutdown closes every subscriber connection and empties the registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var clients []*Client
	for _, set := range h.channels {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.channels = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.closeConnection()
	}
	h.metrics.SubscribersRemoved(len(clients))
	h.logger.Info("closed subscriber connections", "count", len(clients))
}
