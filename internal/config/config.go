package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the main Arion configuration
type Config struct {
	// Data directory (databases, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace root; each task gets a subdirectory
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`

	// Agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Backend credentials and quotas
	Backends BackendsConfig `json:"backends" mapstructure:"backends"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Cross-task memory
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Workspace and task retention
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// AgentConfig holds agent loop settings
type AgentConfig struct {
	MaxTurns        int     `json:"max_turns" mapstructure:"max_turns"`
	MaxOutputTokens int     `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	ToolTimeoutSecs int     `json:"tool_timeout_secs" mapstructure:"tool_timeout_secs"`
}

// BackendsConfig holds per-backend configuration. A backend joins the
// router's priority order only when its credentials are present; Ollama is
// always configured as the local fallback.
type BackendsConfig struct {
	Groq       GroqConfig       `json:"groq" mapstructure:"groq"`
	Gemini     GeminiConfig     `json:"gemini" mapstructure:"gemini"`
	Cloudflare CloudflareConfig `json:"cloudflare" mapstructure:"cloudflare"`
	Anthropic  AnthropicConfig  `json:"anthropic" mapstructure:"anthropic"`
	Ollama     OllamaConfig     `json:"ollama" mapstructure:"ollama"`
}

// GroqConfig holds Groq backend settings
type GroqConfig struct {
	APIKey            string `json:"api_key" mapstructure:"api_key"`
	Model             string `json:"model" mapstructure:"model"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// GeminiConfig holds Google Gemini backend settings
type GeminiConfig struct {
	APIKey            string `json:"api_key" mapstructure:"api_key"`
	Model             string `json:"model" mapstructure:"model"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// CloudflareConfig holds Cloudflare Workers AI backend settings
type CloudflareConfig struct {
	AccountID         string `json:"account_id" mapstructure:"account_id"`
	APIToken          string `json:"api_token" mapstructure:"api_token"`
	Model             string `json:"model" mapstructure:"model"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AnthropicConfig holds Anthropic backend settings
type AnthropicConfig struct {
	APIKey            string `json:"api_key" mapstructure:"api_key"`
	Model             string `json:"model" mapstructure:"model"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// OllamaConfig holds local Ollama settings
type OllamaConfig struct {
	URL        string `json:"url" mapstructure:"url"`
	Model      string `json:"model" mapstructure:"model"`
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port int    `json:"port" mapstructure:"port"`
	Host string `json:"host" mapstructure:"host"`
}

// MemoryConfig holds memory settings
type MemoryConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// RetentionConfig holds workspace/task retention settings
type RetentionConfig struct {
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Schedule   string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxTurns:        80,
			MaxOutputTokens: 4096,
			Temperature:     0.0,
			ToolTimeoutSecs: 120,
		},
		Backends: BackendsConfig{
			Groq: GroqConfig{
				Model:             "llama-3.3-70b-versatile",
				RequestsPerMinute: 30,
			},
			Gemini: GeminiConfig{
				Model:             "gemini-2.0-flash",
				RequestsPerMinute: 15,
			},
			Cloudflare: CloudflareConfig{
				Model:             "@cf/meta/llama-3.1-8b-instruct",
				RequestsPerMinute: 1200,
			},
			Anthropic: AnthropicConfig{
				Model:             "claude-3-5-haiku-latest",
				RequestsPerMinute: 50,
			},
			Ollama: OllamaConfig{
				URL:        "http://localhost:11434",
				Model:      "qwen2.5:7b",
				EmbedModel: "nomic-embed-text",
			},
		},
		Gateway: GatewayConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Memory: MemoryConfig{
			Enabled: true,
		},
		Retention: RetentionConfig{
			MaxAgeDays: 7,
			Schedule:   "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// ResolvePaths fills DataDir and WorkspaceRoot with defaults under the user
// home directory when unset.
func (c *Config) ResolvePaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".arion")
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = filepath.Join(c.DataDir, "workspaces")
	}
	return nil
}

// String returns the config as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Backends.Groq.APIKey = mask(masked.Backends.Groq.APIKey)
	masked.Backends.Gemini.APIKey = mask(masked.Backends.Gemini.APIKey)
	masked.Backends.Cloudflare.APIToken = mask(masked.Backends.Cloudflare.APIToken)
	masked.Backends.Anthropic.APIKey = mask(masked.Backends.Anthropic.APIKey)

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
