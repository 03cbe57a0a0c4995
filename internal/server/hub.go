// Package server coordinates client registration, message broadcast, and
// connection cleanup for the Zentra relay via the Hub type.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/zentra/internal/metrics"
	"github.com/Tyrowin/zentra/internal/store"
)

// Hub owns the connection registry and the message store. It starts one
// heartbeat session and one write pump per connection and removes each
// connection from the registry exactly once, whichever path closes it.
type Hub struct {
	registry *Registry
	messages *store.Store
	cfg      Config
	logger   zerolog.Logger

	// deliverMu serializes Deliver so every connection sees messages in id order.
	deliverMu sync.Mutex

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// NewHub creates a Hub backed by messages.
func NewHub(cfg Config, messages *store.Store, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		messages: messages,
		cfg:      sanitizeConfig(cfg),
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Store returns the message store.
func (h *Hub) Store() *store.Store { return h.messages }

// Connect registers conn under a fresh identity and secret, queues the HELLO
// event and starts the connection's goroutines.
func (h *Hub) Connect(conn *websocket.Conn, name, addr string) (*Client, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	c := newClient(conn, h.registry.NextIdentity(), name, secret, addr, h.cfg, h.logger)
	// HELLO is queued before registration so it precedes any broadcast.
	c.sendEvent(helloEvent(c))

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return nil, ErrShuttingDown
	}
	if err := h.registry.Register(c); err != nil {
		h.mu.Unlock()
		c.Close()
		return nil, err
	}
	h.sessions.Add(2)
	h.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	c.logger.Info().Int("total_clients", h.registry.Len()).Msg("client registered")

	go func() {
		defer h.sessions.Done()
		c.writePump()
	}()
	go func() {
		defer h.sessions.Done()
		h.runHeartbeat(c)
	}()

	return c, nil
}

func (h *Hub) runHeartbeat(c *Client) {
	defer h.disconnect(c, "heartbeat ended")

	session := newHeartbeatSession(c, h.cfg.HeartbeatInterval, h.cfg.HeartbeatTimeout, c.logger)
	c.logReadError(session.run())
}

// Authenticate returns the live client registered under id if secret
// matches its secret exactly.
func (h *Hub) Authenticate(id int64, secret string) (*Client, error) {
	c, ok := h.registry.Lookup(id)
	if !ok || subtle.ConstantTimeCompare([]byte(c.secret), []byte(secret)) != 1 {
		return nil, ErrUnauthorized
	}
	return c, nil
}

// Deliver records msg, assigning its id, and sends a NEW_MESSAGE event to
// every connection registered when the fan-out starts. Connections that
// cannot take the event are removed after the fan-out pass.
func (h *Hub) Deliver(msg store.Message) store.Message {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	msg = h.messages.Record(msg)
	metrics.MessagesTotal.Inc()

	payload, err := json.Marshal(newMessageEvent(msg))
	if err != nil {
		h.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("encode message event")
		return msg
	}

	clients := h.registry.Snapshot()
	h.logger.Debug().
		Int64("message_id", msg.ID).
		Int64("conversation_id", msg.ConversationID).
		Int("targets", len(clients)).
		Msg("broadcasting message")

	failed := h.broadcastToClients(clients, payload)
	h.removeFailedClients(failed)
	return msg
}

// broadcastToClients sends payload to every client and returns the ones that failed
func (h *Hub) broadcastToClients(clients []*Client, payload []byte) []*Client {
	var failed []*Client
	for _, c := range clients {
		if !c.Send(payload) {
			failed = append(failed, c)
		}
	}
	return failed
}

// removeFailedClients prunes clients that could not receive a broadcast
func (h *Hub) removeFailedClients(failed []*Client) {
	for _, c := range failed {
		metrics.DeliveriesFailed.Inc()
		h.disconnect(c, "delivery failed")
	}
}

// disconnect closes c and removes it from the registry. Only the first call
// for a client has any effect on the registry.
func (h *Hub) disconnect(c *Client, reason string) {
	removed := h.registry.Remove(c.id)
	c.Close()
	if !removed {
		return
	}
	metrics.ConnectionsActive.Dec()
	c.logger.Info().
		Str("reason", reason).
		Int("total_clients", h.registry.Len()).
		Msg("client unregistered")
}

// Shutdown closes every live connection and waits for their goroutines to
// finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	clients := h.registry.Snapshot()
	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return fmt.Errorf("hub shutdown: %w", context.DeadlineExceeded)
	}
}
