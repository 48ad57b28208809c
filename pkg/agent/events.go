package agent

// Event types streamed to observers while a task runs.
const (
	EventTaskStarted  = "task_started"
	EventThought      = "thought"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventScreenshot   = "screenshot"
	EventPlanUpdate   = "plan_update"
	EventError        = "error"
	EventTaskComplete = "task_complete"
)

// Event is one progress notification from a running session.
type Event struct {
	Type      string                 `json:"type"`
	AgentName string                 `json:"agent_name"`
	Content   map[string]interface{} `json:"content"`
}

// EmitFunc receives session events. Implementations must not block for
// long; the loop calls it inline.
type EmitFunc func(Event)
