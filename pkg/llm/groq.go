package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// GroqBackend talks to Groq's OpenAI-compatible chat completion API and
// supports native tool calling.
type GroqBackend struct {
	client openai.Client
	model  string
}

// GroqOption customizes the Groq client, primarily for tests.
type GroqOption func(*[]option.RequestOption)

// WithGroqBaseURL overrides the API endpoint.
func WithGroqBaseURL(url string) GroqOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// NewGroqBackend creates a new Groq backend adapter
func NewGroqBackend(apiKey, model string, opts ...GroqOption) *GroqBackend {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(groqBaseURL),
	}
	for _, opt := range opts {
		opt(&clientOpts)
	}
	return &GroqBackend{
		client: openai.NewClient(clientOpts...),
		model:  model,
	}
}

// Name returns the backend name
func (b *GroqBackend) Name() string {
	return "groq"
}

// Model returns the configured model identifier
func (b *GroqBackend) Model() string {
	return b.model
}

// Capabilities reports native tool calling and vision support
func (b *GroqBackend) Capabilities() Capabilities {
	return Capabilities{NativeTools: true, Vision: true}
}

// Complete makes one chat completion call against Groq.
func (b *GroqBackend) Complete(ctx context.Context, req GenerateRequest) (*CompletionResponse, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	response, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("groq completion failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("groq returned no choices")
	}

	choice := response.Choices[0]

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			// Malformed arguments degrade to an empty map rather than
			// failing the whole completion.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		Model:        b.model,
	}, nil
}
