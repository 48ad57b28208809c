package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/pkg/llm"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 120 * time.Second

// Registry manages the agent's capabilities and executes them with
// argument validation and timeout containment. Execute never panics and
// never returns a Go error; failures become failed Results.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
}

// NewRegistry creates a new tool registry
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r := &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
	}

	log.Debug().Dur("timeout", timeout).Msg("Tool registry initialized")

	return r
}

// Register adds a capability. The parameter schema is compiled up front so
// a bad schema fails at startup, not mid-task.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for %s", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	if def.Parameters == nil {
		def.Parameters = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
	if err != nil {
		return fmt.Errorf("invalid parameter schema for %s: %w", def.Name, err)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Registered tool")

	return nil
}

// Schemas returns every registered capability in the form advertised to
// inference backends, sorted by name.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of all registered capabilities.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one capability invocation. An unknown name, invalid
// arguments, a handler error, or a timeout all come back as a failed
// Result rather than a Go error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		known := strings.Join(r.Names(), ", ")
		log.Error().Str("tool", name).Msg("Unknown tool requested")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{
			Success: false,
			Error:   fmt.Sprintf("unknown tool '%s'. Available tools: %s", name, known),
		}
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(schema, args); err != nil {
		log.Error().Str("tool", name).Err(err).Msg("Argument validation failed")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{
			Success: false,
			Error:   fmt.Sprintf("invalid arguments for %s: %v", name, err),
		}
	}

	log.Debug().Str("tool", name).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultChan := make(chan Result, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errChan <- fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		res, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
			return
		}
		if res == nil {
			res = &Result{Success: true}
		}
		resultChan <- *res
	}()

	select {
	case res := <-resultChan:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, res.Success)
		log.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Bool("success", res.Success).
			Msg("Tool execution completed")
		return res

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		log.Error().
			Str("tool", name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		return Result{Success: false, Error: err.Error()}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		log.Error().
			Str("tool", name).
			Dur("duration", duration).
			Msg("Tool execution timed out")
		return Result{
			Success: false,
			Error:   fmt.Sprintf("tool '%s' timed out after %s", name, r.timeout),
		}
	}
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
