package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New("debug", "json", &buf), "discovery")
	l.Debug().Str("device_id", "abc").Msg("device seen")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "discovery", line["component"])
	assert.Equal(t, "abc", line["device_id"])
	assert.Equal(t, "device seen", line["message"])
}

func TestNewLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	l := New("chatty", "json", &buf)
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	New("info", "console", &buf).Warn().Msg("careful")
	assert.Contains(t, buf.String(), "careful")
	assert.NotContains(t, buf.String(), `"message"`)
}
