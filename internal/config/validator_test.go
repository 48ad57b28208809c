package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("should reject empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "groq"))
	})

	t.Run("should accept valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	})

	t.Run("should reject malformed anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("sk-abc123", "anthropic"))
	})

	t.Run("should accept valid groq key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("gsk_abc123", "groq"))
	})

	t.Run("should allow unknown backend formats", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("whatever", "cloudflare"))
	})
}

func TestValidateOllamaURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateOllamaURL("http://localhost:11434"))
	assert.Error(t, v.ValidateOllamaURL(""))
	assert.Error(t, v.ValidateOllamaURL("ftp://nope"))
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	t.Run("should accept defaults", func(t *testing.T) {
		assert.NoError(t, v.Validate(DefaultConfig()))
	})

	t.Run("should reject bad temperature", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Agent.Temperature = 3.0
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("should reject bad port", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.Port = 0
		assert.Error(t, v.Validate(cfg))
	})
}
