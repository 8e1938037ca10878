package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum control frame size accepted from a peer
	maxMessageSize = 64 * 1024

	// Send buffer size per connection
	sendBufferSize = 64
)

// client is one live WebSocket connection with its read and write pumps.
type client struct {
	id       string
	callerID string
	conn     *websocket.Conn
	send     chan []byte
	gw       *Gateway
	close    sync.Once
}

func newClient(id, callerID string, conn *websocket.Conn, gw *Gateway) *client {
	return &client{
		id:       id,
		callerID: callerID,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		gw:       gw,
	}
}

func (c *client) start() {
	go c.writePump()
	go c.readPump()
}

// readPump decodes subscription control frames until the socket closes.
// Any inbound frame counts as liveness.
func (c *client) readPump() {
	defer func() {
		c.gw.drop(c)
		c.closeOnce()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.gw.hub.Touch(c.id)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Warn("websocket read error", "connection_id", c.id, "error", err)
			}
			return
		}

		frame, err := ParseControlFrame(data)
		if err != nil {
			c.gw.logger.Warn("bad control frame", "connection_id", c.id, "error", err)
			continue
		}
		c.gw.hub.Touch(c.id)
		c.gw.handleFrame(c, frame)
	}
}

// writePump drains the send queue to the socket and keeps the peer alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeOnce()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.gw.logger.Warn("websocket write failed", "connection_id", c.id, "error", err)
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

func (c *client) closeOnce() {
	c.close.Do(func() {
		c.conn.Close()
	})
}
