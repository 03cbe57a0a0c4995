package server

import (
	"errors"
	"fmt"
)

// Heartbeat close codes. Clients depend on these values.
const (
	CodeMalformedPayload = 4001
	CodeHeartbeatEvicted = 4002
	CodeUnexpectedType   = 4003
	CodeMissingField     = 4004
	CodeAckMismatch      = 4005
)

var (
	ErrDuplicateIdentity = errors.New("connection identity already registered")
	ErrUnauthorized      = errors.New("invalid connection credentials")
	ErrTransportClosed   = errors.New("transport closed")
	ErrShuttingDown      = errors.New("hub is shutting down")
)

// ProtocolError is a heartbeat violation. It is reported to the client that
// caused it and never propagated further.
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("heartbeat violation %d: %s", e.Code, e.Reason)
}
