package llm

import (
	"context"
	"time"
)

// Message is one transcript entry passed to inference.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ToolSchema describes one capability advertised to the model.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema object
}

// ToolCall is a single capability invocation extracted from a completion.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CompletionResponse is the normalized result of one inference call.
type CompletionResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Model        string     `json:"model"`
	Backend      string     `json:"backend"`
	LatencyMS    int64      `json:"latency_ms"`
}

// GenerateRequest carries the parameters for one inference call.
type GenerateRequest struct {
	Messages       []Message
	Tools          []ToolSchema
	System         string
	Temperature    float64
	MaxTokens      int
	RequiresVision bool
}

// Capabilities declares what a backend supports.
type Capabilities struct {
	NativeTools bool
	Vision      bool
}

// Backend is one configured language-model provider reachable through an
// adapter. Adapters normalize responses and never fail on missing token
// accounting.
type Backend interface {
	Name() string
	Model() string
	Capabilities() Capabilities
	Complete(ctx context.Context, req GenerateRequest) (*CompletionResponse, error)
}

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BackendStatus is a point-in-time snapshot of one backend's router state.
type BackendStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	WindowRequests    int    `json:"requests_this_window"`
	Quota             int    `json:"limit"`
	ConsecutiveErrors int    `json:"errors"`
	LastError         string `json:"last_error,omitempty"`
}

// backendState is the router-owned mutable state for one backend.
type backendState struct {
	windowRequests    int
	windowStart       time.Time
	consecutiveErrors int
	healthy           bool
	lastError         string
}
