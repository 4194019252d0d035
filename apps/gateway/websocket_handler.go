package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waste2worth/negotiation-realtime/pkg/auth"
	"github.com/waste2worth/negotiation-realtime/pkg/snowflake"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	sendBufferSize = 256
)

var (
	errClientGone     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is a middleman between the websocket connection and the gateway.
type Client struct {
	gateway *Gateway

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Connection ID, unique per session.
	ID string

	// Verified user id taken from the access token at connect time.
	UserID string

	mu     sync.Mutex
	closed bool
}

func newClient(g *Gateway, conn *websocket.Conn, id, userID string) *Client {
	return &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		ID:      id,
		UserID:  userID,
	}
}

// enqueue never blocks. A full buffer drops the frame for this client only.
func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump pumps frames from the websocket connection to the gateway, one at
// a time, so a client's events are handled in the order it sent them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.gateway.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[gateway] read error on %s: %v", c.ID, err)
			}
			break
		}
		c.gateway.HandleEvent(ctx, c, message)
	}
}

// writePump pumps frames from the gateway to the websocket connection.
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
				// The gateway closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[gateway] write to %s failed: %v", c.ID, err)
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

// Handler upgrades authenticated requests into gateway connections.
type Handler struct {
	gateway  *Gateway
	tokens   *auth.Tokens
	ids      *snowflake.Node
	upgrader websocket.Upgrader
	ctx      context.Context
}

func NewHandler(ctx context.Context, g *Gateway, tokens *auth.Tokens, ids *snowflake.Node, originAllowed func(string) bool) *Handler {
	return &Handler{
		gateway: g,
		tokens:  tokens,
		ids:     ids,
		ctx:     ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

// ServeHTTP binds the connection to the user in the access token. Every
// message sent on it is attributed to that user.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenString, err := auth.TokenFromRequest(r)
	if err != nil {
		log.Println("[gateway] unauthorized: no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.ValidateToken(tokenString)
	if err != nil {
		log.Printf("[gateway] unauthorized: invalid token: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	client := newClient(h.gateway, conn, h.ids.ConnectionID(), claims.UserID)
	h.gateway.Register(client)

	go client.writePump()
	go client.readPump(h.ctx)
}
