package server

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "json", &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Str("k", "v").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "v", entry["k"])
	assert.Equal(t, "zentra", entry["service"])
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewLogger("loud", "console", &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
