package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/dhuan/pkg/auth"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/scope"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Event frames carry a full
	// message record, so this is larger than the content bound alone.
	maxFrameSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound event frames.
	send chan []byte

	UserID      string
	DisplayName string
	Scope       string
}

func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// readPump consumes explicit broadcast frames from the socket.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("ws_read_error", "client", c.UserID, "error", err)
			}
			break
		}
		c.hub.relayBroadcast(c, raw)
	}
}

// writePump pushes event frames from the hub to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// serveWs authenticates the peer, checks scope access and hands the socket
// to the hub.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromRequest(r)
	if err != nil {
		logger.Debug("ws_unauthorized", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scopeStr := r.URL.Query().Get("scope")
	sc, err := scope.Parse(scopeStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !sc.Member(claims.UserID) {
		http.Error(w, "Unauthorized to join this scope", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "error", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Scope:       sc.String(),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
