package integration

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/zentra/internal/server"
	"github.com/Tyrowin/zentra/test/testhelpers"
)

type rateLimitedBody struct {
	Detail     string    `json:"detail"`
	RetryAfter float64   `json:"retry_after"`
	ResetsAt   time.Time `json:"resets_at"`
}

func TestGlobalRateLimit(t *testing.T) {
	_, ts := testhelpers.StartGateway(t, func(cfg *server.Config) {
		cfg.GlobalRateLimit = server.RateLimitConfig{Requests: 3, Window: time.Minute}
	})

	for i := 0; i < 3; i++ {
		resp := testhelpers.Get(t, ts, "/health")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(2-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp := testhelpers.Get(t, ts, "/conversations/ids")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	var body rateLimitedBody
	testhelpers.DecodeJSON(t, resp, &body)
	assert.Equal(t, "Rate limit exceeded.", body.Detail)
	assert.Greater(t, body.RetryAfter, 0.0)
	assert.LessOrEqual(t, body.RetryAfter, time.Minute.Seconds())
	assert.True(t, body.ResetsAt.After(time.Now()))
}

func TestGlobalRateLimitCoversWebSocketUpgrade(t *testing.T) {
	_, ts := testhelpers.StartGateway(t, func(cfg *server.Config) {
		cfg.GlobalRateLimit = server.RateLimitConfig{Requests: 1, Window: time.Minute}
	})

	testhelpers.Connect(t, ts, "alice")

	conn, resp, err := testhelpers.DialWithOrigin(ts, "bob", testhelpers.TestOrigin)
	require.Error(t, err)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSendRateLimitPerCredentials(t *testing.T) {
	_, ts := testhelpers.StartGateway(t, func(cfg *server.Config) {
		cfg.SendRateLimit = server.RateLimitConfig{Requests: 2, Window: time.Minute}
	})
	_, alice := testhelpers.Connect(t, ts, "alice")
	_, bob := testhelpers.Connect(t, ts, "bob")

	for i := 0; i < 2; i++ {
		resp := testhelpers.PostMessage(t, ts, "1", alice.ConnectionID, alice.Nonce, "hi")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp := testhelpers.PostMessage(t, ts, "1", alice.ConnectionID, alice.Nonce, "too many")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var body rateLimitedBody
	testhelpers.DecodeJSON(t, resp, &body)
	assert.Equal(t, "Rate limit exceeded.", body.Detail)

	resp = testhelpers.PostMessage(t, ts, "1", bob.ConnectionID, bob.Nonce, "separate budget")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var history messageList
	resp = testhelpers.Get(t, ts, "/conversations/1/messages")
	testhelpers.DecodeJSON(t, resp, &history)
	assert.Len(t, history.Data, 3)
}

func doWithHeaders(t *testing.T, method, url string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGlobalRateLimitIgnoresForwardedHeadersByDefault(t *testing.T) {
	_, ts := testhelpers.StartGateway(t, func(cfg *server.Config) {
		cfg.GlobalRateLimit = server.RateLimitConfig{Requests: 25, Window: 10 * time.Second}
	})

	limited := 0
	for i := 0; i < 60; i++ {
		resp := doWithHeaders(t, http.MethodGet, ts.URL+"/health", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i),
			"X-Real-IP":       fmt.Sprintf("10.0.1.%d", i),
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 35, limited, "rotating forwarding headers must not reset the budget")
}

func TestGlobalRateLimitHonoursForwardedHeadersWhenTrusted(t *testing.T) {
	_, ts := testhelpers.StartGateway(t, func(cfg *server.Config) {
		cfg.GlobalRateLimit = server.RateLimitConfig{Requests: 1, Window: time.Minute}
		cfg.TrustProxyHeaders = true
	})

	first := doWithHeaders(t, http.MethodGet, ts.URL+"/health", map[string]string{"X-Forwarded-For": "10.0.0.1"})
	assert.Equal(t, http.StatusOK, first.StatusCode)

	again := doWithHeaders(t, http.MethodGet, ts.URL+"/health", map[string]string{"X-Forwarded-For": "10.0.0.1"})
	assert.Equal(t, http.StatusTooManyRequests, again.StatusCode)

	other := doWithHeaders(t, http.MethodGet, ts.URL+"/health", map[string]string{"X-Forwarded-For": "10.0.0.2"})
	assert.Equal(t, http.StatusOK, other.StatusCode)
}

func TestGlobalRateLimitCoversPreflight(t *testing.T) {
	_, ts := testhelpers.StartGateway(t, func(cfg *server.Config) {
		cfg.GlobalRateLimit = server.RateLimitConfig{Requests: 2, Window: time.Minute}
	})

	preflight := map[string]string{
		"Origin":                         testhelpers.TestOrigin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": server.HeaderConnectionID,
	}
	url := ts.URL + "/conversations/1/messages"

	for i := 0; i < 2; i++ {
		resp := doWithHeaders(t, http.MethodOptions, url, preflight)
		assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, strconv.Itoa(1-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp := doWithHeaders(t, http.MethodOptions, url, preflight)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
