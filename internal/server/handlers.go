// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

const maxNameLength = 100

// WebSocketHandler upgrades GET /ws/{name} and hands the connection to the
// hub, which assigns its identity and starts the heartbeat.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "A display name is required.")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	if _, err := g.hub.Connect(conn, name, r.RemoteAddr); err != nil {
		g.logger.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket connect failed")
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Zentra server is running!")
}

type detailResponse struct {
	Detail string `json:"detail"`
}

type dataResponse struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

// sanitizeName trims the name, drops control characters and caps its length.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}
	return name
}
