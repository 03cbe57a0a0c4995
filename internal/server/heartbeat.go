package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/zentra/internal/metrics"
)

// maxConsecutiveMisses is the number of bad heartbeat replies in a row after
// which the connection is evicted at the start of the next cycle.
const maxConsecutiveMisses = 2

const evictionReason = "Failed to respond correctly to two consecutive heartbeats"

// heartbeatConn is the part of a connection the heartbeat session drives.
type heartbeatConn interface {
	sendEvent(ev Event) bool
	readReply(timeout time.Duration) ([]byte, error)
	closeWith(code int, reason string)
	isClosed() bool
	Done() <-chan struct{}
}

// heartbeatSession runs the challenge/response loop of one connection. Its
// state is owned by the goroutine calling run.
type heartbeatSession struct {
	conn     heartbeatConn
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	expectedAck int64
	misses      int
}

func newHeartbeatSession(conn heartbeatConn, interval, timeout time.Duration, logger zerolog.Logger) *heartbeatSession {
	return &heartbeatSession{
		conn:     conn,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// run loops until the connection closes. It returns nil when the connection
// was already closed at a cycle boundary and an error wrapping
// ErrTransportClosed when the transport failed mid-cycle.
func (s *heartbeatSession) run() error {
	for {
		if s.misses >= maxConsecutiveMisses {
			s.evict()
		}

		if !s.wait() || s.conn.isClosed() {
			return nil
		}

		if !s.conn.sendEvent(pingEvent(s.expectedAck)) {
			return fmt.Errorf("%w: ping not queued", ErrTransportClosed)
		}

		raw, err := s.conn.readReply(s.timeout)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}

		if perr := parseHeartbeatReply(raw, s.expectedAck); perr != nil {
			s.miss(perr)
			continue
		}

		s.expectedAck++
		s.misses = 0
	}
}

// wait sleeps for one interval and reports false if the connection closed
// in the meantime.
func (s *heartbeatSession) wait() bool {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-s.conn.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *heartbeatSession) miss(perr *ProtocolError) {
	s.misses++
	metrics.HeartbeatMisses.WithLabelValues(strconv.Itoa(perr.Code)).Inc()
	s.logger.Warn().
		Int("code", perr.Code).
		Int("consecutive_misses", s.misses).
		Int64("expected_ack", s.expectedAck).
		Msg(perr.Reason)

	s.conn.sendEvent(errorEvent(perr))
}

func (s *heartbeatSession) evict() {
	metrics.HeartbeatEvictions.Inc()
	s.logger.Info().Int("consecutive_misses", s.misses).Msg("evicting unresponsive connection")
	s.conn.closeWith(CodeHeartbeatEvicted, evictionReason)
}

// parseHeartbeatReply validates raw as a PONG echoing expectedAck and
// returns the violation it commits, if any. Checks run in code order: the
// document shape, then its type, then the data field, then the ack.
func parseHeartbeatReply(raw []byte, expectedAck int64) *ProtocolError {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return &ProtocolError{Code: CodeMalformedPayload, Reason: "Response was not a valid JSON object"}
	}

	var typ string
	rawType, ok := envelope["type"]
	if !ok || json.Unmarshal(rawType, &typ) != nil || typ != EventPong {
		return &ProtocolError{
			Code:   CodeUnexpectedType,
			Reason: fmt.Sprintf("Expected type %s, got %s", EventPong, displayRaw(rawType)),
		}
	}

	var data map[string]json.RawMessage
	rawData, ok := envelope["data"]
	if !ok || json.Unmarshal(rawData, &data) != nil || len(data) == 0 {
		return &ProtocolError{Code: CodeMissingField, Reason: "Response is missing the required data field"}
	}

	var ack int64
	rawAck, ok := data["ack"]
	if !ok || json.Unmarshal(rawAck, &ack) != nil || ack != expectedAck {
		return &ProtocolError{
			Code:   CodeAckMismatch,
			Reason: fmt.Sprintf("Expected ack %d, got %s", expectedAck, displayRaw(rawAck)),
		}
	}

	return nil
}

func displayRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "nothing"
	}
	return string(raw)
}
