package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSendBufferFull   = errors.New("subscriber send buffer full")
)

// Client is a WebSocket subscriber. Sends are queued and written in order by
// WritePump.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan string
	config config.WebSocketConfig

	mu     sync.Mutex
	closed bool
	// done is closed when WritePump exits.
	done chan struct{}
}

func NewClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	size := cfg.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan string, size),
		config: cfg,
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues text without blocking.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case <-c.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case c.send <- text:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close flushes queued frames and closes the connection from WritePump.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// ReadPump reads text frames until the connection fails and hands each to
// handler. It returns nil on a normal close.
func (c *Client) ReadPump(handler func(text string)) error {
	defer c.conn.Close()

	if c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handler(string(message))
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
