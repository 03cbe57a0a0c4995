// Package server implements the Zentra relay: the websocket streaming
// surface with its heartbeat, the conversation query and write endpoints,
// and the cooldown limiters in front of them.
//
// The implementation is split by concern. Configuration lives in config.go,
// connection state in client.go and registry.go, the heartbeat state machine
// in heartbeat.go, fan-out in hub.go, and the HTTP surface in routes.go,
// handlers.go and conversations.go.
package server
