package tool

import "context"

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, args map[string]interface{}) (*Result, error)

// Definition describes one capability: its advertised schema and handler.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema object
	Handler     Handler                `json:"-"`
}

// Result is the outcome of one tool execution. Artifacts carry side
// products keyed by kind, such as a base64 screenshot under "screenshot".
type Result struct {
	Success   bool              `json:"success"`
	Output    string            `json:"output,omitempty"`
	Error     string            `json:"error,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}
