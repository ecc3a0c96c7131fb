// Package ws is the WebSocket transport for live auction rooms. It owns
// connection lifecycle and frame delivery only; room semantics live behind
// the Gateway interface.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/auctiond/internal/live"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Gateway is the room-semantics side of the transport. Implemented by
// live.Gateway; injected after construction to break the hub/gateway cycle.
type Gateway interface {
	HandleJoin(ctx context.Context, auctionID, userAddress, connID string)
	HandleLeave(ctx context.Context, auctionID, connID string)
	HandleDisconnect(ctx context.Context, connID string)
}

// client represents a single WebSocket connection.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// joined tracks the auctions this connection has joined, for routing
	// broadcasts. The live registry stays authoritative for membership.
	joined map[string]bool
	mu     sync.RWMutex
}

// clientMsg is the JSON message a client sends to manage room membership.
type clientMsg struct {
	Action      string `json:"action"` // "join_auction" or "leave_auction"
	AuctionID   string `json:"auction_id"`
	UserAddress string `json:"user_address"`
}

// Hub manages the set of connected WebSocket clients and delivers room
// envelopes to them. It implements live.Fanout.
type Hub struct {
	clients map[string]*client

	register   chan *client
	unregister chan *client

	gateway Gateway
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates a Hub. Call SetGateway before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// SetGateway wires the room gateway in. The hub is constructed before the
// gateway because the gateway needs the hub as its fanout.
func (h *Hub) SetGateway(g Gateway) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gateway = g
}

func (h *Hub) getGateway() Gateway {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gateway
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("conn_id", c.id),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.String("conn_id", c.id),
				slog.Int("total_clients", h.clientCount()),
			)
		}
	}
}

// Send delivers a payload to one connection. Non-blocking; a full send
// buffer drops the message.
func (h *Hub) Send(connID string, payload []byte) {
	// push must happen under the read lock: Run closes c.send under the
	// write lock, so releasing before the push races a teardown into a send
	// on a closed channel.
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	c.push(payload, h.logger)
}

// Broadcast delivers a payload to every connection in an auction room.
func (h *Hub) Broadcast(auctionID string, payload []byte) {
	h.broadcast(auctionID, "", payload)
}

// BroadcastExcept delivers a payload to every connection in an auction room
// except one, typically the connection that caused the message.
func (h *Hub) BroadcastExcept(auctionID, exceptConnID string, payload []byte) {
	h.broadcast(auctionID, exceptConnID, payload)
}

func (h *Hub) broadcast(auctionID, exceptConnID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id == exceptConnID || !c.inRoom(auctionID) {
			continue
		}
		c.push(payload, h.logger)
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:     uuid.New().String(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		joined: make(map[string]bool),
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// push enqueues a payload on the client's send buffer without blocking.
func (c *client) push(payload []byte, logger *slog.Logger) {
	select {
	case c.send <- payload:
	default:
		// Client's send buffer is full; drop the message. Envelopes carry
		// full values, so the next one resynchronizes the client.
		logger.Warn("ws: dropping message for slow client",
			slog.String("conn_id", c.id),
		)
	}
}

func (c *client) inRoom(auctionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined[auctionID]
}

// readPump reads messages from the WebSocket connection and dispatches room
// management requests (JSON text frames) to the gateway.
func (c *client) readPump() {
	defer func() {
		if g := c.hub.getGateway(); g != nil {
			// Caller's request context is long gone; membership cleanup must
			// still run.
			g.HandleDisconnect(context.Background(), c.id)
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		c.handleAction(msg)
	}
}

// handleAction processes one join/leave request from the client.
func (c *client) handleAction(msg clientMsg) {
	g := c.hub.getGateway()
	if g == nil {
		c.sendError("service not ready")
		return
	}
	if msg.AuctionID == "" {
		c.sendError("auction_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Action {
	case "join_auction":
		c.mu.Lock()
		c.joined[msg.AuctionID] = true
		c.mu.Unlock()
		g.HandleJoin(ctx, msg.AuctionID, msg.UserAddress, c.id)

	case "leave_auction":
		c.mu.Lock()
		delete(c.joined, msg.AuctionID)
		c.mu.Unlock()
		g.HandleLeave(ctx, msg.AuctionID, c.id)

	default:
		c.sendError("unknown action: " + msg.Action)
	}
}

// sendError pushes an error envelope to this client only.
func (c *client) sendError(message string) {
	data, err := json.Marshal(live.Envelope{
		Type:    "error",
		Payload: map[string]any{"message": message},
	})
	if err != nil {
		return
	}
	c.push(data, c.hub.logger)
}

// writePump pumps messages from the hub to the WebSocket connection. It sends
// JSON text frames for envelopes and periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Compile-time interface check.
var _ live.Fanout = (*Hub)(nil)
