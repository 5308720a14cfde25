package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Msg("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestNewDefaultWriter(t *testing.T) {
	log := New(nil, "info")
	require.NotNil(t, log)
}

func TestSub(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("streaming")

	log.Info().Msg("bridge ready")
	assert.Contains(t, buf.String(), `"subsystem":"streaming"`)
}

func TestWithCall(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").WithCall("CA123", "sess-1", "acme")

	log.Warn().Msg("dropped frame")
	out := buf.String()
	assert.Contains(t, out, `"call_sid":"CA123"`)
	assert.Contains(t, out, `"session_id":"sess-1"`)
	assert.Contains(t, out, `"tenant_id":"acme"`)
}

func TestWithCallOmitsEmpty(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug").WithCall("CA123", "", "").Info().Msg("x")
	assert.NotContains(t, buf.String(), "session_id")
	assert.NotContains(t, buf.String(), "tenant_id")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSilent(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "silent").Error().Msg("nothing")
	assert.Empty(t, buf.String())
}

func TestNop(t *testing.T) {
	Nop().Error().Msg("discarded")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}
