// Package server wires HTTP handlers into a chi router for the Zentra relay.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes configures the router. The global limiter runs before routing and
// before CORS, so it covers every request including preflights and unknown
// paths. Forwarding headers are honoured only when TrustProxyHeaders is set;
// otherwise the limiter keys on the socket peer address.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if g.cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(recordMetrics)
	r.Use(requestLogger(g.logger))
	r.Use(chimw.Recoverer)
	r.Use(g.globalRateLimit)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.origins.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderConnectionID, HeaderNonce},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", HealthHandler)
	r.Get("/health", HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws/{name}", g.WebSocketHandler)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/ids", g.ConversationIDsHandler)
		r.Get("/all/messages/latest", g.AllLatestMessagesHandler)
		r.Get("/{conversation_id}/messages", g.MessagesHandler)
		r.Get("/{conversation_id}/messages/latest", g.LatestMessageHandler)
		r.Post("/{conversation_id}/messages", g.SendMessageHandler)
	})

	return r
}
