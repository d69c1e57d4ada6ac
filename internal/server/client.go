package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	maxFrameSize = 64 * 1024
	sendBuffer   = 256
)

// Client is one WebSocket connection of an authenticated user.
type Client struct {
	ID     string
	UserID uuid.UUID

	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
	closed   bool
}

func NewClient(conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
	}
}

// SessionID and SessionUserID let the client act as a session directory entry.
func (c *Client) SessionID() string        { return c.ID }
func (c *Client) SessionUserID() uuid.UUID { return c.UserID }

func (c *Client) addChannel(channel string) {
	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()
}

func (c *Client) removeChannel(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// Channels returns a snapshot of the client's subscriptions.
func (c *Client) Channels() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]bool, len(c.channels))
	for channel := range c.channels {
		snapshot[channel] = true
	}
	return snapshot
}

// Send queues a payload without blocking; a slow consumer loses frames
// rather than stalling the hub.
func (c *Client) Send(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// SendFrame encodes and queues an outbound frame.
func (c *Client) SendFrame(frame OutboundFrame) {
	c.Send(frame.encode())
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WriteLoop drains the send queue onto the wire and keeps the connection
// alive with pings. It exits when the send queue closes.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
