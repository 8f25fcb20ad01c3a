package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Inbound messages are small control requests such as {"type":"sync"}
	maxMessageSize = 512

	// sendBuffer is how many events may queue before the client counts as too slow.
	// A sync message is one event however many layouts it lists.
	sendBuffer = 64
)

// Client is one WebSocket connection following a namespace
type Client struct {
	id       string
	identity Identity
	conn     *websocket.Conn
	hub      *Hub

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for an authenticated connection
func NewClient(conn *websocket.Conn, identity Identity, hub *Hub) *Client {
	return &Client{
		id:       uuid.New().String(),
		identity: identity,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// ID returns the client's unique identifier
func (c *Client) ID() string {
	return c.id
}

// Namespace returns the namespace the client follows
func (c *Client) Namespace() string {
	return c.identity.Namespace
}

// UserID returns the authenticated user behind the connection
func (c *Client) UserID() string {
	return c.identity.UserID
}

// Send queues a message without blocking
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrClientTooSlow
	}
}

// Close stops both pumps and closes the connection. It may be called more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ReadPump reads control messages until the connection fails, then unregisters.
// Run it in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("client_id", c.id).
					Str("namespace", c.identity.Namespace).
					Msg("WebSocket unexpected close")
			}
			return
		}
		c.hub.HandleMessage(c, message)
	}
}

// WritePump writes queued events and keepalive pings. Run it in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().
					Err(err).
					Str("client_id", c.id).
					Str("namespace", c.identity.Namespace).
					Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
