package server

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn answers each PING with the next scripted reply. Once the
// script runs out, reads fail as if the peer went away.
type scriptedConn struct {
	mu        sync.Mutex
	replies   []func(ack int64) string
	lastAck   int64
	events    []Event
	closeCode int
	done      chan struct{}
	closeOnce sync.Once
}

func newScriptedConn(replies ...func(ack int64) string) *scriptedConn {
	return &scriptedConn{replies: replies, done: make(chan struct{})}
}

func (c *scriptedConn) sendEvent(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return false
	}
	c.events = append(c.events, ev)
	if ping, ok := ev.Data.(PingData); ok {
		c.lastAck = ping.Ack
	}
	return true
}

func (c *scriptedConn) readReply(time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		c.closeOnce.Do(func() { close(c.done) })
		return nil, errors.New("peer gone")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return []byte(next(c.lastAck)), nil
}

func (c *scriptedConn) closeWith(code int, _ string) {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *scriptedConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *scriptedConn) Done() <-chan struct{} { return c.done }

func (c *scriptedConn) pingAcks() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var acks []int64
	for _, ev := range c.events {
		if ping, ok := ev.Data.(PingData); ok {
			acks = append(acks, ping.Ack)
		}
	}
	return acks
}

func (c *scriptedConn) errorCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var codes []int
	for _, ev := range c.events {
		if e, ok := ev.Data.(ErrorData); ok {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

func correctPong(ack int64) string {
	return fmt.Sprintf(`{"type":"PONG","data":{"ack":%d}}`, ack)
}

func fixed(raw string) func(int64) string {
	return func(int64) string { return raw }
}

func runSession(t *testing.T, conn *scriptedConn) error {
	t.Helper()

	session := newHeartbeatSession(conn, time.Millisecond, time.Second, zerolog.Nop())
	result := make(chan error, 1)
	go func() { result <- session.run() }()

	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat session did not finish")
		return nil
	}
}

func TestParseHeartbeatReply(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int64
		code     int
	}{
		{name: "valid", raw: `{"type":"PONG","data":{"ack":3}}`, expected: 3},
		{name: "extra fields ignored", raw: `{"type":"PONG","data":{"ack":0,"x":1},"y":2}`},
		{name: "not json", raw: `pong`, code: CodeMalformedPayload},
		{name: "json array", raw: `[1,2]`, code: CodeMalformedPayload},
		{name: "json null", raw: `null`, code: CodeMalformedPayload},
		{name: "json string", raw: `"PONG"`, code: CodeMalformedPayload},
		{name: "missing type", raw: `{"data":{"ack":0}}`, code: CodeUnexpectedType},
		{name: "wrong type", raw: `{"type":"PING","data":{"ack":0}}`, code: CodeUnexpectedType},
		{name: "lowercase type", raw: `{"type":"pong","data":{"ack":0}}`, code: CodeUnexpectedType},
		{name: "numeric type", raw: `{"type":7,"data":{"ack":0}}`, code: CodeUnexpectedType},
		{name: "missing data", raw: `{"type":"PONG"}`, code: CodeMissingField},
		{name: "empty data", raw: `{"type":"PONG","data":{}}`, code: CodeMissingField},
		{name: "null data", raw: `{"type":"PONG","data":null}`, code: CodeMissingField},
		{name: "scalar data", raw: `{"type":"PONG","data":"ack"}`, code: CodeMissingField},
		{name: "missing ack", raw: `{"type":"PONG","data":{"nack":0}}`, code: CodeAckMismatch},
		{name: "wrong ack", raw: `{"type":"PONG","data":{"ack":1}}`, expected: 0, code: CodeAckMismatch},
		{name: "string ack", raw: `{"type":"PONG","data":{"ack":"0"}}`, code: CodeAckMismatch},
		{name: "fractional ack", raw: `{"type":"PONG","data":{"ack":0.5}}`, code: CodeAckMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := parseHeartbeatReply([]byte(tt.raw), tt.expected)
			if tt.code == 0 {
				assert.Nil(t, perr)
				return
			}
			require.NotNil(t, perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestHeartbeat_CorrectRepliesAdvanceAck(t *testing.T) {
	conn := newScriptedConn(correctPong, correctPong, correctPong)

	err := runSession(t, conn)

	require.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, []int64{0, 1, 2, 3}, conn.pingAcks())
	assert.Empty(t, conn.errorCodes())
	assert.Zero(t, conn.closeCode)
}

func TestHeartbeat_TwoConsecutiveMissesEvict(t *testing.T) {
	conn := newScriptedConn(
		fixed(`{"type":"PING"}`),
		fixed(`garbage`),
	)

	err := runSession(t, conn)

	require.NoError(t, err)
	assert.Equal(t, CodeHeartbeatEvicted, conn.closeCode)
	assert.Equal(t, []int{CodeUnexpectedType, CodeMalformedPayload}, conn.errorCodes())
	assert.Equal(t, []int64{0, 0}, conn.pingAcks(), "ack must not advance on a miss")
}

func TestHeartbeat_CorrectReplyResetsMisses(t *testing.T) {
	conn := newScriptedConn(
		fixed(`{"type":"PONG","data":{"ack":9}}`),
		correctPong,
		fixed(`{"type":"PONG","data":{}}`),
	)

	err := runSession(t, conn)

	require.ErrorIs(t, err, ErrTransportClosed)
	assert.Zero(t, conn.closeCode, "alternating misses must not evict")
	assert.Equal(t, []int{CodeAckMismatch, CodeMissingField}, conn.errorCodes())
	assert.Equal(t, []int64{0, 0, 1, 1}, conn.pingAcks())
}

func TestHeartbeat_StopsWhenClosedDuringWait(t *testing.T) {
	conn := newScriptedConn()
	conn.closeWith(1000, "")

	session := newHeartbeatSession(conn, time.Hour, time.Second, zerolog.Nop())
	assert.NoError(t, session.run())
	assert.Empty(t, conn.pingAcks())
}
