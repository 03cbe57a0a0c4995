// Package server defines the websocket event envelopes and utility helpers
// shared by connection, heartbeat and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/zentra/internal/store"
)

// Event types carried on the streaming surface.
const (
	EventHello      = "HELLO"
	EventPing       = "PING"
	EventPong       = "PONG"
	EventNewMessage = "NEW_MESSAGE"
	EventError      = "ERROR"
)

// Event is the envelope of every frame sent to a client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HelloData is sent once when a connection opens. Clients keep both values
// for authenticated write requests.
type HelloData struct {
	ConnectionID int64  `json:"connection_id"`
	Nonce        string `json:"nonce"`
}

// PingData carries the ack a client must echo back in its PONG.
type PingData struct {
	Ack int64 `json:"ack"`
}

// ErrorData reports a heartbeat violation to the offending client.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func helloEvent(c *Client) Event {
	return Event{Type: EventHello, Data: HelloData{ConnectionID: c.id, Nonce: c.secret}}
}

func pingEvent(ack int64) Event {
	return Event{Type: EventPing, Data: PingData{Ack: ack}}
}

func newMessageEvent(msg store.Message) Event {
	return Event{Type: EventNewMessage, Data: msg}
}

func errorEvent(perr *ProtocolError) Event {
	return Event{Type: EventError, Data: ErrorData{Code: perr.Code, Message: perr.Reason}}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
