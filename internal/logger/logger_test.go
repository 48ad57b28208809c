package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		cfg := Config{
			Level:   "info",
			Console: true,
			Pretty:  false,
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)

		logger.Close()
	})

	t.Run("create logger with file output", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "test.log")

		cfg := Config{
			Level:   "debug",
			File:    logFile,
			Console: false,
		}

		logger, err := New(cfg)
		require.NoError(t, err)

		zl := logger.GetZerolog()
		zl.Info().Msg("test message")
		logger.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "nonsense", Console: true})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, "info", logger.GetZerolog().GetLevel().String())
	})

	t.Run("create logger with redaction", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "test.log")

		cfg := Config{
			Level:     "info",
			File:      logFile,
			Console:   false,
			Redaction: true,
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		zl := logger.GetZerolog()
		zl.Info().Str("key", "gsk_abcdefghijklmnopqrstuvwxyz").Msg("auth")
		logger.Close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "gsk_abcdefghijklmnopqrstuvwxyz")
	})
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	t.Run("redacts API keys", func(t *testing.T) {
		assert.Equal(t, "key=[REDACTED]", r.Redact("key=sk-abcdefghijklmnopqrstuvwx"))
		assert.Equal(t, "key=[REDACTED]", r.Redact("key=AIzaSyAbCdEfGhIjKlMnOpQrStUvWxYz012345"))
	})

	t.Run("redacts bearer tokens", func(t *testing.T) {
		assert.Equal(t, "Authorization: [REDACTED]", r.Redact("Authorization: Bearer abc.def.ghi"))
	})

	t.Run("leaves ordinary text alone", func(t *testing.T) {
		assert.Equal(t, "hello world", r.Redact("hello world"))
	})

	t.Run("custom pattern", func(t *testing.T) {
		r := NewRedactor()
		require.NoError(t, r.AddPattern(`card-\d{4}`))
		assert.Equal(t, "[REDACTED]", r.Redact("card-1234"))

		assert.Error(t, r.AddPattern(`([`))
	})
}
