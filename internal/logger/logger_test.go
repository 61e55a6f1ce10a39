package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write JSON to the console writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := New(Config{Level: "info", Console: true, Out: buf})
		require.NoError(t, err)
		defer l.Close()

		zl := l.Zerolog()
		zl.Info().Str("run_id", "r1").Msg("started")
		zl.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"run_id":"r1"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("should write to file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "engine.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		zl := l.Zerolog()
		zl.Debug().Msg("test message")
		require.NoError(t, l.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("should redact secrets when enabled", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := New(Config{Level: "info", Console: true, Out: buf, Redaction: true})
		require.NoError(t, err)
		defer l.Close()

		zl := l.Zerolog()
		zl.Info().Str("auth", "Bearer abc.def.ghi").Msg("calling provider")

		assert.NotContains(t, buf.String(), "abc.def.ghi")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("should default to info on unknown level", func(t *testing.T) {
		l, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})
}

func TestComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := New(Config{Level: "info", Console: true, Out: buf})
	require.NoError(t, err)
	defer l.Close()

	child := l.Component("failover")
	child.Info().Msg("switch")

	assert.Contains(t, buf.String(), `"component":"failover"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSizeMB)
	assert.Equal(t, 7, cfg.MaxAgeDays)
	assert.True(t, cfg.Compress)
}
