package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AnthropicRequest represents the request body for the Anthropic API
type AnthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []map[string]string `json:"messages"`
}

// AnthropicResponse represents the response from the Anthropic API
type AnthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model        string                 `json:"model"`
	StopReason   string                 `json:"stop_reason"`
	StopSequence string                 `json:"stop_sequence"`
	Usage        map[string]interface{} `json:"usage"`
}

// AnthropicClient talks to the Anthropic messages API
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewAnthropicClient creates an Anthropic messages API client
func NewAnthropicClient(baseURL, apiKey string, timeout time.Duration, tracer trace.Tracer, meter metric.Meter) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxTokens:  1024,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     tracer,
		meter:      meter,
	}
}

var _ Client = (*AnthropicClient)(nil)

func (c *AnthropicClient) Complete(ctx context.Context, modelID string, messages []Message) (*Completion, error) {
	ctx, span := c.tracer.Start(ctx, "anthropic_api_call")
	defer span.End()

	start := time.Now()

	if c.apiKey == "" {
		return nil, newError("anthropic", false, errors.New("API key not set"))
	}

	// Anthropic takes system content out of band. The prompt may open
	// with more than one system message (persona plus attached excerpt).
	var system string
	rest := messages
	for len(rest) > 0 && rest[0].Role == "system" {
		if system != "" {
			system += "\n\n"
		}
		system += rest[0].Content
		rest = rest[1:]
	}

	reqBody := AnthropicRequest{
		Model:     modelID,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  wireMessages(rest),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError("anthropic", false, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, newError("anthropic", false, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError("anthropic", true, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError("anthropic", true, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newError("anthropic", retryableStatus(resp.StatusCode),
			fmt.Errorf("API error: %s - %s", resp.Status, string(body)))
	}

	var apiResp AnthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, newError("anthropic", false, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	recordCallDuration(ctx, c.meter, time.Since(start))

	if len(apiResp.Content) == 0 {
		return nil, newError("anthropic", false, errors.New("empty response"))
	}

	return &Completion{
		ReplyText: apiResp.Content[0].Text,
		Usage:     apiResp.Usage,
	}, nil
}
