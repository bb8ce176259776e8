package streaming

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/corebus/platform/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message is the client-to-server control frame: subscribe to or leave a
// room. Clients never publish updates; the stream is one-way.
type Message struct {
	Type string `json:"type"` // "join" or "leave"
	Room string `json:"room"`
}

// Client is one WebSocket subscriber.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
	mu    sync.Mutex
	log   *logger.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream carries no privileged data beyond what the status API
	// already serves, so cross-origin subscribers are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a WebSocket subscription and starts
// the client's pumps.
func ServeWS(hub *Hub, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			hub:   hub,
			conn:  conn,
			send:  make(chan []byte, 256),
			rooms: make(map[string]bool),
			log:   log,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump consumes join/leave control frames until the connection drops.
func (c *Client) readPump() {
	defer func() {
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
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
		c.hub.metrics.WSMessagesIn.Inc()

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("ignoring malformed stream control frame", zap.Error(err))
			continue
		}
		if msg.Room == "" {
			continue
		}

		switch msg.Type {
		case "join":
			c.join(msg.Room)
		case "leave":
			c.leave(msg.Room)
		}
	}
}

// writePump flushes queued updates and keeps the connection alive with pings.
func (c *Client) writePump() {
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

func (c *Client) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rooms[room] {
		c.rooms[room] = true
		c.hub.joinRoom(room, c)
		c.log.Debug("stream client joined room", zap.String("room", room))
	}
}

func (c *Client) leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[room] {
		delete(c.rooms, room)
		c.hub.leaveRoom(room, c)
		c.log.Debug("stream client left room", zap.String("room", room))
	}
}
