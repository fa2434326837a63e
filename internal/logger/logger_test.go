package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
		assert.NotNil(t, logger.Redactor())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "studymate.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		chatLog := logger.Component("chat")
		chatLog.Info().Msg("turn handled")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "turn handled")
		assert.Contains(t, string(content), `"component":"chat"`)
	})

	t.Run("redaction", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "studymate.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)

		logger.Info().Str("key", "sk-abcdefghijklmnopqrstuvwxyz123456").Msg("provider configured")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(content), "sk-abcdefghijklmnopqrstuvwxyz123456")
		assert.Contains(t, string(content), "[REDACTED]")
	})

	t.Run("level helpers", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "studymate.log")

		logger, err := New(Config{Level: "warn", File: logFile})
		require.NoError(t, err)

		logger.Debug().Msg("cache hit")
		logger.Info().Msg("turn handled")
		logger.Warn().Msg("lane busy")
		logger.Error().Msg("store unavailable")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(content), "cache hit")
		assert.NotContains(t, string(content), "turn handled")
		assert.Contains(t, string(content), `"level":"warn"`)
		assert.Contains(t, string(content), `"level":"error"`)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
	})

	t.Run("installs global logger", func(t *testing.T) {
		logger, err := New(Config{Level: "warn"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
}
