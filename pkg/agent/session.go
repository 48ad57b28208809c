package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/pkg/llm"
	"github.com/bayu/arion/pkg/tool"
	"github.com/rs/zerolog"
)

const (
	defaultMaxTurns   = 80
	defaultMaxTokens  = 4096
	thinkErrorBackoff = 3 * time.Second

	// Transcript compression bounds.
	compressAbove     = 30
	compressMinLen    = 15
	compressKeepTail  = 12
	compressSummaryOf = 8
	compressEntryCap  = 150

	// Observation truncation.
	previewCap    = 3000
	observeCap    = 8000
	recordOutCap  = 5000
	recordThotCap = 2000
)

// Generator is the inference surface a session needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.CompletionResponse, error)
}

// Executor is the capability surface a session needs.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) tool.Result
	Schemas() []llm.ToolSchema
}

// TurnRecord is one turn's persisted trace.
type TurnRecord struct {
	TaskID       string
	Turn         int
	ToolName     string
	ToolInput    map[string]interface{}
	ToolOutput   string
	Reasoning    string
	Model        string
	Backend      string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// Recorder persists turn traces. Recording failures are logged and never
// stop the loop.
type Recorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
}

// Config holds session configuration
type Config struct {
	TaskID        string
	AgentName     string
	WorkspacePath string
	Router        Generator
	Registry      Executor
	Emit          EmitFunc
	Recorder      Recorder
	Logger        zerolog.Logger
	MaxTurns      int
	MaxTokens     int
	Temperature   float64
	// ExtraPrompt is appended to the system prompt, typically the textual
	// tool protocol notes or role instructions.
	ExtraPrompt string
	// Sleep overrides the think-error backoff, for tests.
	Sleep func(time.Duration)
}

// Session runs one task through the think-act-observe loop until the model
// stops calling tools, the turn budget runs out, or it is cancelled.
type Session struct {
	cfg   Config
	sleep func(time.Duration)

	messages  []llm.Message
	turnCount int

	totalTokens  int
	backendStats map[string]int

	cancelled atomic.Bool

	injectMu sync.Mutex
	injected []string
}

// New creates a new Session
func New(cfg Config) (*Session, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Emit == nil {
		cfg.Emit = func(Event) {}
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "arion"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Session{
		cfg:          cfg,
		sleep:        sleep,
		backendStats: make(map[string]int),
	}, nil
}

// Cancel requests a stop. The flag is checked at turn boundaries only, so
// an in-flight tool execution finishes first.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// InjectMessage queues a human message for the next turn.
func (s *Session) InjectMessage(msg string) {
	s.injectMu.Lock()
	defer s.injectMu.Unlock()
	s.injected = append(s.injected, msg)
}

// TurnCount returns how many turns have run.
func (s *Session) TurnCount() int {
	return s.turnCount
}

// TotalTokens returns the input+output token total across all turns.
func (s *Session) TotalTokens() int {
	return s.totalTokens
}

// BackendStats returns how many completions each backend served.
func (s *Session) BackendStats() map[string]int {
	out := make(map[string]int, len(s.backendStats))
	for k, v := range s.backendStats {
		out[k] = v
	}
	return out
}

// Run drives the loop to a terminal state and returns the final summary.
func (s *Session) Run(ctx context.Context, task string) (summary string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("session panicked: %v", rec)
			s.cfg.Logger.Error().Str("task_id", s.cfg.TaskID).Msgf("Session panic: %v", rec)
			s.emit(EventError, map[string]interface{}{"error": err.Error()})
		}
	}()

	s.messages = append(s.messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Task: %s\n\nStart by creating todo.md with your plan.", task),
	})

	schemas := s.cfg.Registry.Schemas()
	system := s.systemPrompt()

	for s.turnCount < s.cfg.MaxTurns && !s.cancelled.Load() {
		s.turnCount++
		observability.RecordTurn()

		s.drainInjected()

		// THINK
		resp, genErr := s.cfg.Router.Generate(ctx, llm.GenerateRequest{
			Messages:    s.messages,
			Tools:       schemas,
			System:      system,
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxTokens,
		})
		if genErr != nil {
			s.cfg.Logger.Warn().Str("task_id", s.cfg.TaskID).Err(genErr).Msg("Think step failed")
			s.emit(EventError, map[string]interface{}{"error": fmt.Sprintf("LLM error: %v", genErr)})
			s.sleep(thinkErrorBackoff)
			continue
		}

		s.totalTokens += resp.InputTokens + resp.OutputTokens
		s.backendStats[resp.Backend]++
		observability.RecordTokens(resp.InputTokens, resp.OutputTokens)

		if len(resp.ToolCalls) == 0 {
			// DONE
			s.emit(EventThought, map[string]interface{}{"text": resp.Content})
			return resp.Content, nil
		}

		// Only the first call is honored.
		tc := resp.ToolCalls[0]

		if cleaned := llm.StripToolCalls(resp.Content); cleaned != "" {
			s.emit(EventThought, map[string]interface{}{
				"text":     cleaned,
				"provider": resp.Backend,
				"model":    resp.Model,
			})
		}

		s.emit(EventToolCall, map[string]interface{}{
			"tool":      tc.Name,
			"arguments": tc.Arguments,
			"turn":      s.turnCount,
			"provider":  resp.Backend,
		})

		// ACT
		result := s.cfg.Registry.Execute(ctx, tc.Name, tc.Arguments)

		// OBSERVE
		if shot := result.Artifacts["screenshot"]; shot != "" {
			s.emit(EventScreenshot, map[string]interface{}{"image": shot})
		}

		s.emit(EventToolResult, map[string]interface{}{
			"tool":    tc.Name,
			"success": result.Success,
			"output":  truncate(result.Output, previewCap),
		})

		if tc.Name == "file_write" {
			if p, _ := tc.Arguments["path"].(string); strings.Contains(p, "todo.md") {
				content, _ := tc.Arguments["content"].(string)
				s.emit(EventPlanUpdate, map[string]interface{}{"plan": content})
			}
		}

		observation := fmt.Sprintf("Tool [%s] result:\n%s", tc.Name, truncate(result.Output, observeCap))
		if result.Error != "" {
			observation += "\nError: " + result.Error
		}
		s.messages = append(s.messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: observation},
		)

		s.record(ctx, tc, resp, result)

		if len(s.messages) > compressAbove {
			s.compress()
		}
	}

	return fmt.Sprintf("Stopped after %d turns.", s.turnCount), nil
}

func (s *Session) drainInjected() {
	s.injectMu.Lock()
	defer s.injectMu.Unlock()
	if len(s.injected) == 0 {
		return
	}
	msg := s.injected[0]
	s.injected = s.injected[1:]
	s.messages = append(s.messages, llm.Message{
		Role:    "user",
		Content: "[Human message]: " + msg,
	})
}

func (s *Session) record(ctx context.Context, tc llm.ToolCall, resp *llm.CompletionResponse, result tool.Result) {
	if s.cfg.Recorder == nil {
		return
	}
	err := s.cfg.Recorder.RecordTurn(ctx, TurnRecord{
		TaskID:       s.cfg.TaskID,
		Turn:         s.turnCount,
		ToolName:     tc.Name,
		ToolInput:    tc.Arguments,
		ToolOutput:   truncate(result.Output, recordOutCap),
		Reasoning:    truncate(resp.Content, recordThotCap),
		Model:        resp.Model,
		Backend:      resp.Backend,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		LatencyMS:    resp.LatencyMS,
	})
	if err != nil {
		s.cfg.Logger.Warn().Str("task_id", s.cfg.TaskID).Err(err).Msg("Failed to record turn")
	}
}

// compress folds older transcript entries into a single summary message,
// keeping the task anchor and the recent tail verbatim.
func (s *Session) compress() {
	if len(s.messages) <= compressMinLen {
		return
	}

	old := s.messages[1 : len(s.messages)-compressKeepTail]
	if len(old) > compressSummaryOf {
		old = old[len(old)-compressSummaryOf:]
	}

	var sb strings.Builder
	sb.WriteString("Previous steps summary:\n")
	for _, m := range old {
		sb.WriteString("- " + truncate(m.Content, compressEntryCap) + "\n")
	}

	compressed := make([]llm.Message, 0, compressKeepTail+2)
	compressed = append(compressed, s.messages[0])
	compressed = append(compressed, llm.Message{Role: "user", Content: sb.String()})
	compressed = append(compressed, s.messages[len(s.messages)-compressKeepTail:]...)
	s.messages = compressed
}

func (s *Session) systemPrompt() string {
	prompt := fmt.Sprintf(`You are %s, an AI agent that autonomously completes tasks using tools.

## Rules
1. Execute ONE tool per response.
2. ALWAYS start by creating todo.md with your plan.
3. Update todo.md after completing each step (mark [x]).
4. Verify your work before finishing.
5. When fully done, respond with a summary and NO tool call.

## Workspace
All files: %s
Use relative paths.`, s.cfg.AgentName, s.cfg.WorkspacePath)

	if s.cfg.ExtraPrompt != "" {
		prompt += "\n\n" + s.cfg.ExtraPrompt
	}

	prompt += "\n\nIMPORTANT: When task is complete, write your final summary as plain text WITHOUT any <tool_call> tags."
	return prompt
}

func (s *Session) emit(eventType string, content map[string]interface{}) {
	s.cfg.Emit(Event{
		Type:      eventType,
		AgentName: s.cfg.AgentName,
		Content:   content,
	})
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
