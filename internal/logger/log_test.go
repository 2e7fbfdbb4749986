package logger

import (
	"bytes"
	"strings"
	"testing"

	"logsink/internal/config"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewAddsCommonFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.Config{ServiceName: "logsink", InstanceID: "node-1", LogLevel: "info"})

	l.Debug().Msg("hidden")
	l.Info().Str("source", "10.0.0.1").Msg("source file opened")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "logsink", rec["service"])
	assert.Equal(t, "node-1", rec["instance"])
	assert.Equal(t, "10.0.0.1", rec["source"])
	assert.Equal(t, "info", rec["level"])
}

func TestSamplingKeepsWarnings(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.Config{LogLevel: "debug", LogSampleN: 10})

	for i := 0; i < 20; i++ {
		l.Info().Msg("info")
		l.Warn().Msg("warn")
	}

	infos := strings.Count(buf.String(), `"message":"info"`)
	warns := strings.Count(buf.String(), `"message":"warn"`)
	assert.Equal(t, 20, warns)
	assert.Equal(t, 2, infos)
}
