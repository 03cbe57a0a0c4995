package server

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{" HTTP://Localhost:8080 ", "not a url", ""}, zerolog.Nop())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{origin: "http://localhost:8080", allowed: true},
		{origin: "http://LOCALHOST:8080", allowed: true},
		{origin: "http://localhost:9090", allowed: false},
		{origin: "https://localhost:8080", allowed: false},
		{origin: "", allowed: false},
		{origin: "garbage", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws/alice", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allowed, policy.checkOrigin(r))
		})
	}

	assert.Equal(t, []string{"http://localhost:8080"}, policy.corsOrigins())
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, zerolog.Nop())

	r := httptest.NewRequest("GET", "/ws/alice", nil)
	assert.True(t, policy.checkOrigin(r))

	r.Header.Set("Origin", "http://anything.example")
	assert.True(t, policy.checkOrigin(r))
	assert.Equal(t, []string{"*"}, policy.corsOrigins())
}
