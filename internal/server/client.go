// Package server manages individual WebSocket clients, handling the write
// pump, the heartbeat read loop, and lifecycle control for each connection.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// secretBytes is the entropy of a connection secret before hex encoding.
const secretBytes = 32

// Client represents one registered WebSocket connection. Its identity and
// secret are fixed at creation; the secret authenticates write requests made
// on behalf of the connection.
type Client struct {
	id     int64
	name   string
	secret string
	addr   string

	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// newClient builds a client for conn. conn may be nil in tests, in which
// case nothing is written and Close only marks the client closed.
func newClient(conn *websocket.Conn, id int64, name, secret, addr string, cfg Config, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:           id,
		name:         name,
		secret:       secret,
		addr:         addr,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBufferSize),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		logger: logger.With().
			Int64("connection_id", id).
			Str("name", name).
			Str("addr", addr).
			Logger(),
	}
}

// newSecret returns a hex encoded random token.
func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate connection secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ID returns the connection identity.
func (c *Client) ID() int64 { return c.id }

// Name returns the display name chosen at connect time.
func (c *Client) Name() string { return c.name }

// Secret returns the connection secret.
func (c *Client) Secret() string { return c.secret }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send queues a frame without blocking. It reports false when the client is
// closed or its queue is full; either way the frame is not delivered.
func (c *Client) Send(message []byte) bool {
	if c.isClosed() {
		return false
	}

	select {
	case <-c.done:
		return false
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) sendEvent(ev Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return false
	}
	return c.Send(payload)
}

// Close tears down the connection. It is safe to call more than once and
// from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeConnection()
	})
}

// closeWith sends a close frame carrying code and reason, then closes.
func (c *Client) closeWith(code int, reason string) {
	if c.conn != nil && !c.isClosed() {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn().Err(err).Int("code", code).Msg("write close frame")
			}
		}
	}
	c.Close()
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("close connection")
		}
	}
}

// readReply blocks for exactly one inbound frame, waiting at most timeout.
func (c *Client) readReply(timeout time.Duration) ([]byte, error) {
	if c.conn == nil {
		<-c.done
		return nil, ErrTransportClosed
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

// logReadError logs why the heartbeat read loop ended.
func (c *Client) logReadError(err error) {
	if err == nil {
		return
	}

	var netErr net.Error
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info().Err(err).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info().Msg("client disconnected")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info().Msg("heartbeat response timed out")
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		c.logger.Info().Err(err).Msg("connection closed")
	case errors.Is(err, ErrTransportClosed):
		c.logger.Debug().Msg("connection closed locally")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) writePump() {
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				return
			}
		}
	}
}

// writeTextMessage writes one frame and returns false if the connection should be closed
func (c *Client) writeTextMessage(message []byte) bool {
	if c.conn == nil {
		return true
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("set write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("write message")
		}
		return false
	}
	return true
}
