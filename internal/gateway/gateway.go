// Package gateway is the WebSocket transport for the streaming hub. The hub
// only records routing state; this package owns the sockets, decodes
// subscription control frames, and fans recorded broadcasts out to live
// subscriber connections without ever blocking the broadcast path.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rosoideae/weave/internal/access"
	"github.com/rosoideae/weave/internal/bridge"
	"github.com/rosoideae/weave/internal/hub"
)

type Gateway struct {
	hub      *hub.Hub
	auth     access.Authorizer
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func New(h *hub.Hub, auth access.Authorizer, logger *slog.Logger) *Gateway {
	return &Gateway{
		hub:    h,
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the fronting proxy; TLS and origin
			// checks are integration concerns.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// HandleWS upgrades the request and registers the connection with the hub.
// connection_id may be supplied for reconnects; otherwise one is generated.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	connID := r.URL.Query().Get("connection_id")
	if connID == "" {
		connID = uuid.NewString()
	}
	callerID := r.URL.Query().Get("caller_id")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	caps := access.Grants(g.auth, callerID, access.ActionContribute, access.ActionSubscribe)
	g.hub.Connect(connID, caps)

	c := newClient(connID, callerID, conn, g)
	g.mu.Lock()
	if prev, ok := g.clients[connID]; ok {
		// Reconnect with the same id: the hub already reset its channel
		// set; drop the old socket.
		prev.closeOnce()
	}
	g.clients[connID] = c
	g.mu.Unlock()

	g.logger.Info("websocket connected", "connection_id", connID, "caller_id", callerID)
	c.start()
}

// Deliver implements bridge.Deliverer. Each subscriber gets the envelope on
// its buffered send queue; a full queue drops the message for that
// subscriber only, so one slow connection never stalls the rest.
func (g *Gateway) Deliver(msg hub.Message, subscribers []string) {
	data, err := bridge.WrapForTransport(msg)
	if err != nil {
		g.logger.Error("failed to build transport envelope", "message_id", msg.ID, "error", err)
		return
	}

	g.mu.Lock()
	targets := make([]*client, 0, len(subscribers))
	for _, id := range subscribers {
		if c, ok := g.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	g.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			g.logger.Warn("dropping message for slow subscriber",
				"connection_id", c.id, "message_id", msg.ID)
		}
	}
}

// handleFrame applies one decoded control frame for a connection.
func (g *Gateway) handleFrame(c *client, frame ControlFrame) {
	switch frame.Action {
	case ActionSubscribe:
		if g.auth != nil && !g.auth.IsAuthorized(c.callerID, access.ActionSubscribe) {
			g.logger.Warn("subscribe denied", "connection_id", c.id, "caller_id", c.callerID)
			return
		}
		if !g.hub.Subscribe(c.id, frame.ChannelKey) {
			g.logger.Warn("subscribe for unknown connection", "connection_id", c.id)
		}
	case ActionUnsubscribe:
		g.hub.Unsubscribe(c.id, frame.ChannelKey)
	case ActionPing:
		g.hub.Touch(c.id)
	}
}

// drop unregisters a closed client and disconnects it from the hub. When the
// id was taken over by a reconnect, the hub registration belongs to the new
// socket and must survive the old socket's teardown.
func (g *Gateway) drop(c *client) {
	g.mu.Lock()
	current := g.clients[c.id] == c
	if current {
		delete(g.clients, c.id)
	}
	g.mu.Unlock()

	if !current {
		return
	}
	g.hub.Disconnect(c.id)
	g.logger.Info("websocket disconnected", "connection_id", c.id)
}

// CloseAll tears down every live socket, used on shutdown.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()

	for _, c := range clients {
		c.closeOnce()
	}
}
