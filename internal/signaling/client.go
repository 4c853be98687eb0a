// Package signaling is the duplex control channel to the relay. It
// never carries media, only the small negotiation and room envelopes.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrBackpressure = errors.New("signaling send queue full")

// Client manages the WebSocket connection to the relay server and pumps
// messages in both directions. Inbound messages are delivered on
// Incoming() in arrival order; the channel closes when the connection
// dies.
type Client struct {
	serverURL string
	conn      *websocket.Conn
	incoming  chan Message
	outgoing  chan Message
	done      chan struct{}
	once      sync.Once
	logger    zerolog.Logger
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan Message, 32),
		outgoing:  make(chan Message, 32),
		done:      make(chan struct{}),
		logger:    log.With().Str("module", "signaling").Logger(),
	}
}

// Connect dials the relay and starts the read/write pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Info().Str("url", c.serverURL).Msg("connected to relay")
	return nil
}

func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error().Err(err).Msg("readPump closed")
			}
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues a message for delivery. Non-blocking: a full queue drops
// the message and reports backpressure instead of stalling the caller.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return errors.New("signaling client closed")
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// Incoming returns the inbound message stream.
func (c *Client) Incoming() <-chan Message {
	return c.incoming
}

// Close terminates the connection. Safe to call twice.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
