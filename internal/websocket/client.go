package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// sendBuffer is how many events a feed may fall behind before it is dropped
	sendBuffer = 64
)

// ErrSlowConsumer is returned by Send when the client's buffer is full
var ErrSlowConsumer = errors.New("client is not keeping up with the feed")

// Client is one feed connection. The feed is server to client only.
type Client struct {
	id        string
	sub       Subscription
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a feed client for an upgraded connection
func NewClient(conn *websocket.Conn, sub Subscription) *Client {
	return &Client{
		id:   uuid.NewString(),
		sub:  sub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the client's unique identifier
func (c *Client) ID() string {
	return c.id
}

// Subscription returns the feed scope of the client
func (c *Client) Subscription() Subscription {
	return c.sub
}

// Send queues an event without blocking
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close asks the peer to reconnect later and closes the connection. Safe to
// call more than once and concurrently with Serve.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe for a fresh snapshot")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

// Serve writes first, then queued events in order, until the connection
// ends or the client is closed. Events queued before Serve starts are sent
// after first. The client is unregistered from hub on return.
func (c *Client) Serve(hub *Hub, first []byte) {
	defer func() {
		hub.Unregister(c)
		c.Close()
	}()
	go c.readUntilClosed()

	if err := c.write(websocket.TextMessage, first); err != nil {
		c.logWriteError(err)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logWriteError(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) logWriteError(err error) {
	log.Warn().
		Err(err).
		Str("client_id", c.id).
		Str("subscription", c.sub.String()).
		Msg("Feed write failed")
}

// readUntilClosed keeps the pong deadline alive and discards inbound frames
func (c *Client) readUntilClosed() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("client_id", c.id).
					Str("subscription", c.sub.String()).
					Msg("Feed closed unexpectedly")
			}
			return
		}
	}
}
