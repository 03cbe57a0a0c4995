package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/zentra/internal/cooldown"
	"github.com/Tyrowin/zentra/internal/store"
)

// Gateway maps the HTTP and websocket surfaces onto the hub, the message
// store and the two cooldown limiters.
type Gateway struct {
	cfg      Config
	logger   zerolog.Logger
	hub      *Hub
	messages *store.Store
	origins  *originPolicy
	upgrader websocket.Upgrader

	globalLimiter *cooldown.Limiter
	sendLimiter   *cooldown.Limiter

	handler http.Handler
	stop    context.CancelFunc
}

// NewGateway wires a gateway from cfg. Limiter counters are kept in limits;
// when limits is nil an in-memory store is created and swept until Shutdown.
func NewGateway(cfg Config, logger zerolog.Logger, limits cooldown.Store) (*Gateway, error) {
	cfg = sanitizeConfig(cfg)

	ctx, stop := context.WithCancel(context.Background())
	if limits == nil {
		memory := cooldown.NewMemoryStore(cooldown.WithSweepInterval(cfg.GlobalRateLimit.Window))
		go memory.Run(ctx)
		limits = memory
	}

	globalLimiter, err := cooldown.New("global", cfg.GlobalRateLimit.Requests, cfg.GlobalRateLimit.Window, limits)
	if err != nil {
		stop()
		return nil, fmt.Errorf("global limiter: %w", err)
	}
	sendLimiter, err := cooldown.New("send", cfg.SendRateLimit.Requests, cfg.SendRateLimit.Window, limits)
	if err != nil {
		stop()
		return nil, fmt.Errorf("send limiter: %w", err)
	}

	messages := store.New()
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	g := &Gateway{
		cfg:      cfg,
		logger:   logger,
		hub:      NewHub(cfg, messages, logger),
		messages: messages,
		origins:  origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		globalLimiter: globalLimiter,
		sendLimiter:   sendLimiter,
		stop:          stop,
	}
	g.handler = g.routes()
	return g, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Hub returns the hub behind the gateway.
func (g *Gateway) Hub() *Hub { return g.hub }

// Config returns the sanitized configuration in use.
func (g *Gateway) Config() Config { return g.cfg }

// Shutdown closes all connections and stops background work.
func (g *Gateway) Shutdown() error {
	defer g.stop()
	return g.hub.Shutdown(g.cfg.ShutdownTimeout)
}
