// Package testhelpers provides common utilities and helper functions for testing the Zentra server.
//
// It starts gateways on httptest servers, dials the streaming surface and
// drives the write endpoint so integration tests read as scenarios.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/zentra/internal/server"
)

// TestOrigin is the origin every helper dials with. It is allowed by the
// default configuration.
const TestOrigin = "http://localhost:8080"

// Frame is a decoded event from the streaming surface.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StartGateway creates a gateway from the default configuration, applies
// customize, and serves it on an httptest server. Both are shut down when
// the test ends.
func StartGateway(t *testing.T, customize func(cfg *server.Config)) (*server.Gateway, *httptest.Server) {
	t.Helper()

	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}

	gateway, err := server.NewGateway(*cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(gateway.Handler())
	t.Cleanup(func() {
		_ = gateway.Shutdown()
		ts.Close()
	})
	return gateway, ts
}

// WebSocketURL returns the streaming URL for name on ts.
func WebSocketURL(ts *httptest.Server, name string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + name
}

// DialWithOrigin opens a websocket to name. An empty origin sends no Origin header.
func DialWithOrigin(ts *httptest.Server, name, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(WebSocketURL(ts, name), headers)
}

// Connect dials the streaming surface as name and returns the connection
// with the credentials from its HELLO event.
func Connect(t *testing.T, ts *httptest.Server, name string) (*websocket.Conn, server.HelloData) {
	t.Helper()

	conn, resp, err := DialWithOrigin(ts, name, TestOrigin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	frame := ReadFrame(t, conn, 2*time.Second)
	require.Equal(t, server.EventHello, frame.Type)

	var hello server.HelloData
	require.NoError(t, json.Unmarshal(frame.Data, &hello))
	require.NotEmpty(t, hello.Nonce)
	return conn, hello
}

// ReadFrame reads one event, failing the test if none arrives within timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// ReadMessage reads the next NEW_MESSAGE event, skipping heartbeat frames.
func ReadMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		frame := ReadFrame(t, conn, time.Until(deadline))
		if frame.Type != server.EventNewMessage {
			continue
		}
		var msg map[string]any
		require.NoError(t, json.Unmarshal(frame.Data, &msg))
		return msg
	}
}

// Pong writes a PONG answering ack.
func Pong(conn *websocket.Conn, ack int64) error {
	return conn.WriteJSON(map[string]any{
		"type": server.EventPong,
		"data": map[string]any{"ack": ack},
	})
}

// PostMessage sends content to a conversation with the given credentials.
func PostMessage(t *testing.T, ts *httptest.Server, conversation string, connID int64, nonce, content string) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]string{"content": content})
	require.NoError(t, err)
	return PostRaw(t, ts, conversation, strconv.FormatInt(connID, 10), nonce, body)
}

// PostRaw sends body as-is to a conversation with raw header values.
func PostRaw(t *testing.T, ts *httptest.Server, conversation, connID, nonce string, body []byte) *http.Response {
	t.Helper()

	url := fmt.Sprintf("%s/conversations/%s/messages", ts.URL, conversation)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderConnectionID, connID)
	req.Header.Set(server.HeaderNonce, nonce)

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Get performs a GET against path on ts.
func Get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON decodes resp's body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
