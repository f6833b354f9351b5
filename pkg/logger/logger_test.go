package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_AllLogLevels(t *testing.T) {
	testCases := []struct {
		level         string
		expectedLevel zerolog.Level
		name          string
	}{
		{"debug", zerolog.DebugLevel, "debug"},
		{"info", zerolog.InfoLevel, "info"},
		{"warn", zerolog.WarnLevel, "warn"},
		{"error", zerolog.ErrorLevel, "error"},
		{"unknown", zerolog.InfoLevel, "unknown defaults to info"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := New(Config{Level: tc.level, Pretty: false})
			assert.NotNil(t, l)
			assert.Equal(t, tc.expectedLevel, zerolog.GlobalLevel())
		})
	}
}

func TestNew_WritesMessages(t *testing.T) {
	l := New(Config{Level: "info", Pretty: false})

	var buf bytes.Buffer
	l = l.Output(&buf)
	l.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestNew_PrettyOutput(t *testing.T) {
	l := New(Config{Level: "info", Pretty: true})

	var buf bytes.Buffer
	l = l.Output(&buf)
	l.Info().Msg("pretty message")

	assert.Contains(t, buf.String(), "pretty message")
}
