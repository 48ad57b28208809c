package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const cloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// CloudflareBackend talks to Workers AI. The models exposed there have no
// native tool calling and no vision support, so tool use goes through the
// prompt protocol.
type CloudflareBackend struct {
	accountID string
	apiToken  string
	model     string
	baseURL   string
	client    *http.Client
}

// NewCloudflareBackend creates a new Workers AI backend adapter
func NewCloudflareBackend(accountID, apiToken, model string) *CloudflareBackend {
	return &CloudflareBackend{
		accountID: accountID,
		apiToken:  apiToken,
		model:     model,
		baseURL:   cloudflareBaseURL,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (b *CloudflareBackend) SetBaseURL(url string) {
	b.baseURL = url
}

// Name returns the backend name
func (b *CloudflareBackend) Name() string {
	return "cloudflare"
}

// Model returns the configured model identifier
func (b *CloudflareBackend) Model() string {
	return b.model
}

// Capabilities reports prompt-based tool calling and no vision support
func (b *CloudflareBackend) Capabilities() Capabilities {
	return Capabilities{NativeTools: false, Vision: false}
}

type cloudflareMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cloudflareRequest struct {
	Messages    []cloudflareMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type cloudflareResponse struct {
	Result struct {
		Response string `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Complete makes one Workers AI run call. Tool invocations are extracted
// from the completion text per the prompt protocol.
func (b *CloudflareBackend) Complete(ctx context.Context, req GenerateRequest) (*CompletionResponse, error) {
	system := req.System
	if len(req.Tools) > 0 {
		system += "\n\n" + BuildToolPrompt(req.Tools)
	}

	messages := []cloudflareMessage{}
	if system != "" {
		messages = append(messages, cloudflareMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		messages = append(messages, cloudflareMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(cloudflareRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode workers ai request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", b.baseURL, b.accountID, b.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiToken)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("workers ai request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read workers ai response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("workers ai returned status %d: %s", httpResp.StatusCode, truncateBody(respBody))
	}

	var parsed cloudflareResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode workers ai response: %w", err)
	}

	if !parsed.Success {
		msg := "unknown error"
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Message
		}
		return nil, fmt.Errorf("workers ai call failed: %s", msg)
	}

	content := parsed.Result.Response

	// Workers AI does not report token usage; counts stay zero.
	return &CompletionResponse{
		Content:   content,
		ToolCalls: ExtractToolCalls(content),
		Model:     b.model,
	}, nil
}
