// Package ws provides the WebSocket hub through which clients create sinks,
// join them and receive live capture events.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/requestsink/requestsink/internal/domain/sink"
	"github.com/requestsink/requestsink/internal/service"
)

// Client message types.
const (
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeCreate  = "create"
	TypeCreated = "created"
	TypeError   = "error"
)

// maxMessageSize bounds a single client text message.
const maxMessageSize = 64 * 1024

// Subscriptions is the notifier surface the hub drives.
type Subscriptions interface {
	Subscribe(ctx context.Context, sinkID string, conn service.Connection)
	Unsubscribe(sinkID string, conn service.Connection)
	Disconnect(ctx context.Context, conn service.Connection)
}

// SinkCreator creates sinks owned by a connection.
type SinkCreator interface {
	Create(ctx context.Context, connectionID string) (*sink.Sink, error)
}

// Message is a client request or a hub reply.
type Message struct {
	Type    string `json:"type"`
	SinkID  string `json:"sinkId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub upgrades HTTP requests to WebSocket connections and serves them.
type Hub struct {
	subs   Subscriptions
	sinks  SinkCreator
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// NewHub creates a Hub.
func NewHub(subs Subscriptions, sinks SinkCreator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    subs,
		sinks:   sinks,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// UpgradeHTTP has already written the error response.
		h.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("websocket connected", "connection_id", c.id, "remote_addr", r.RemoteAddr)

	err = h.readLoop(r.Context(), c)
	if err != nil && !isClosed(err) {
		h.logger.Debug("websocket read loop exit", "connection_id", c.id, "error", err)
	}

	h.unregister(c)
	h.subs.Disconnect(context.Background(), c)
	_ = conn.Close()
	h.logger.Debug("websocket disconnected", "connection_id", c.id)
}

// Close terminates every open connection. New upgrades are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *Hub) readLoop(ctx context.Context, c *client) error {
	handleControl := wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)
	// Control replies (pong, close) share the connection with event pushes.
	control := func(hdr ws.Header, r io.Reader) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return handleControl(hdr, r)
	}

	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return err
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(rd, maxMessageSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxMessageSize {
			// Skip the rest of an oversized frame so the stream stays in sync.
			if err := rd.Discard(); err != nil {
				return err
			}
			c.reply(ctx, Message{Type: TypeError, Message: "message too large"})
			continue
		}

		h.handle(ctx, c, data)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(ctx, Message{Type: TypeError, Message: "invalid message"})
		return
	}

	switch msg.Type {
	case TypeJoin:
		if msg.SinkID == "" {
			c.reply(ctx, Message{Type: TypeError, Message: "sinkId is required"})
			return
		}
		h.subs.Subscribe(ctx, msg.SinkID, c)
		h.logger.Debug("connection joined sink", "connection_id", c.id, "sink_id", msg.SinkID)

	case TypeLeave:
		if msg.SinkID == "" {
			c.reply(ctx, Message{Type: TypeError, Message: "sinkId is required"})
			return
		}
		h.subs.Unsubscribe(msg.SinkID, c)
		h.logger.Debug("connection left sink", "connection_id", c.id, "sink_id", msg.SinkID)

	case TypeCreate:
		created, err := h.sinks.Create(ctx, c.id)
		if err != nil {
			h.logger.Error("failed to create sink", "connection_id", c.id, "error", err)
			c.reply(ctx, Message{Type: TypeError, Message: "failed to create sink"})
			return
		}
		h.subs.Subscribe(ctx, created.ID, c)
		c.reply(ctx, Message{Type: TypeCreated, SinkID: created.ID})

	default:
		c.reply(ctx, Message{Type: TypeError, Message: "unknown message type"})
	}
}

// client is one upgraded connection. Writes are serialized by writeMu.
type client struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *client) ID() string { return c.id }

// Send writes payload as a single text frame, honoring ctx's deadline.
func (c *client) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerText(c.conn, payload)
}

func (c *client) reply(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = c.Send(ctx, data)
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Compile-time interface verification.
var _ service.Connection = (*client)(nil)
