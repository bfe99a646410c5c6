package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeouts, following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// The stream is server-to-client; inbound frames are only control traffic
	maxMessageSize = 4096
)

// Client is one WebSocket connection on the hub
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan interface{}
	id        string
	closeOnce sync.Once
}

// readPump drains inbound frames so pongs and close frames are processed
func (c *Client) readPump() {
	defer func() {
		c.hub.wg.Done()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.logger.Warnw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keepalive pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case <-c.hub.ctx.Done():
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.Debugw("Event write error", "client_id", c.id, "error", err)
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

// close closes the send queue once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
