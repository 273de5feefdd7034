package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Errors
var (
	ErrClientBufferFull = errors.New("client buffer is full")
	ErrClientClosed     = errors.New("client is closed")
)

// Client represents one WebSocket connection. It implements hub.Sender.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	bufferFullCount int64

	closed  bool
	closeMu sync.Mutex
	cleanup func(*Client)
}

// NewClient creates a client with a cleanup callback invoked once on close.
func NewClient(id string, conn *websocket.Conn, cleanup func(*Client)) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		cleanup: cleanup,
	}
}

// ID returns the client's ID.
func (c *Client) ID() string {
	return c.id
}

// SendEvent delivers a channel event to this client without blocking. The
// channel name doubles as the event name on the wire.
func (c *Client) SendEvent(channel string, data interface{}) error {
	return c.Send(struct {
		Type      string      `json:"type"`
		Data      interface{} `json:"data"`
		Timestamp int64       `json:"timestamp"`
	}{
		Type:      channel,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Send marshals and queues a message for the write pump. A full buffer drops
// the message rather than blocking the caller.
func (c *Client) Send(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// The closed check and the channel send must stay in one critical
	// section: Close closes c.send, and a send racing past the check
	// would panic on the closed channel. The send is non-blocking, so
	// holding the mutex here is fine.
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		n := atomic.AddInt64(&c.bufferFullCount, 1)
		utils.WSLogger.Warn("client %s buffer full, dropping message (count=%d)", c.id, n)
		return ErrClientBufferFull
	}
}

// BufferFullCount returns how often this client's send buffer overflowed.
func (c *Client) BufferFullCount() int64 {
	return atomic.LoadInt64(&c.bufferFullCount)
}

// Close tears the connection down exactly once.
func (c *Client) Close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	c.closeMu.Unlock()

	c.conn.Close()
	close(c.send)

	if c.cleanup != nil {
		c.cleanup(c)
	}
}

// WritePump pumps queued messages to the WebSocket connection, interleaving
// protocol pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
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

// ReadPump pumps inbound messages to the handler until the connection closes.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				utils.WSLogger.Warn("client %s unexpected close: %v", c.id, err)
			}
			break
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handler(c, message)
	}
}
