package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "info", Format: "json", Service: "chat-test"}, &buf)

	log.Info().Str("room", "r1").Msg("hello")
	log.Debug().Msg("filtered out")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "chat-test", entry["service"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "r1", entry["room"])
	assert.Contains(t, entry, "time")
}

func TestNewDefaultsServiceName(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{}, &buf)
	log.Info().Msg("x")
	assert.Contains(t, buf.String(), `"service":"gochat"`)
}

func TestConsoleFormat(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "debug", Format: "console"}, &buf)
	log.Warn().Msg("careful")

	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "careful")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(config.LogConfig{}, &buf), "router")
	log.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"router"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
