package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a full config for out-of-range values.
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent max_turns must be positive")
	}
	if cfg.Agent.MaxOutputTokens <= 0 {
		return fmt.Errorf("agent max_output_tokens must be positive")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		return fmt.Errorf("agent temperature must be between 0 and 2")
	}
	if cfg.Agent.ToolTimeoutSecs <= 0 {
		return fmt.Errorf("agent tool_timeout_secs must be positive")
	}
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535")
	}
	if err := v.ValidateOllamaURL(cfg.Backends.Ollama.URL); err != nil {
		return err
	}
	if cfg.Backends.Anthropic.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Backends.Anthropic.APIKey, "anthropic"); err != nil {
			return err
		}
	}
	if cfg.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention max_age_days cannot be negative")
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, backend string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", backend)
	}

	switch backend {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "groq":
		if !strings.HasPrefix(key, "gsk_") {
			return fmt.Errorf("invalid Groq API key format (should start with gsk_)")
		}
	}

	return nil
}

// ValidateOllamaURL validates the local backend URL
func (v *Validator) ValidateOllamaURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ollama url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid ollama url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ollama url must use http or https")
	}
	return nil
}
