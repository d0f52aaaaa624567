// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tap

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultBufferSize is the number of views queued per client.
	DefaultBufferSize = 64

	// DefaultWriteTimeout bounds one websocket write.
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds the tap configuration.
type Config struct {
	// BufferSize is the per-client queue length. 0 uses DefaultBufferSize.
	BufferSize int

	// WriteTimeout bounds each write to a client. 0 uses DefaultWriteTimeout.
	WriteTimeout time.Duration

	// CheckOrigin validates the upgrade request origin. nil accepts all origins.
	CheckOrigin func(r *http.Request) bool

	// Logger for tap events
	Logger *slog.Logger
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub streams every inspected record as JSON to the connected websocket
// clients. A client whose queue is full misses the record.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

var (
	_ http.Handler     = (*Hub)(nil)
	_ handler.Observer = (*Hub)(nil)
)

// New creates a hub with no clients.
func New(cfg Config) *Hub {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}

	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: check,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams records until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.config.Logger.Error("failed to upgrade tap connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.config.BufferSize),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	h.config.Logger.Debug("tap client connected",
		slog.String("client", c.id),
		slog.String("remote", r.RemoteAddr))

	go h.writePump(c)

	// Clients never send anything useful; reading only surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(c)
	h.config.Logger.Debug("tap client disconnected", slog.String("client", c.id))
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.config.Logger.Debug("tap write failed",
				slog.String("client", c.id),
				slog.String("error", err.Error()))
			h.unregister(c)
			return
		}
		h.sent.Add(1)
	}

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(h.config.WriteTimeout))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// OnSession implements handler.Observer.
func (h *Hub) OnSession(ctx context.Context, hctx *handler.Context) error {
	return nil
}

// OnRecord streams the record view to every client.
func (h *Hub) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
	if h.Clients() == 0 {
		return nil
	}
	msg, err := json.Marshal(rec.View())
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// OnDisconnect implements handler.Observer.
func (h *Hub) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sent returns the number of messages written to clients.
func (h *Hub) Sent() uint64 {
	return h.sent.Load()
}

// Dropped returns the number of messages skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
