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

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
}

// OpenAIResponse represents the response from OpenAI-compatible APIs
type OpenAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

// OpenAIClient talks to the OpenAI chat completions API or any
// compatible endpoint (grok-style gateways included) via BaseURL.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// name distinguishes backends ("openai", "grok") in traces and errors.
func NewOpenAIClient(name, baseURL, apiKey string, timeout time.Duration, tracer trace.Tracer, meter metric.Meter) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     tracer,
		meter:      meter,
	}
}

var _ Client = (*OpenAIClient)(nil)

func (c *OpenAIClient) Complete(ctx context.Context, modelID string, messages []Message) (*Completion, error) {
	ctx, span := c.tracer.Start(ctx, c.name+"_api_call")
	defer span.End()

	start := time.Now()

	if c.apiKey == "" {
		return nil, newError(c.name, false, errors.New("API key not set"))
	}

	reqBody := OpenAIRequest{
		Model:    modelID,
		Messages: wireMessages(messages),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError(c.name, false, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, newError(c.name, false, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(c.name, true, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(c.name, true, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newError(c.name, retryableStatus(resp.StatusCode),
			fmt.Errorf("API error: %s - %s", resp.Status, string(body)))
	}

	var apiResp OpenAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, newError(c.name, false, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	recordCallDuration(ctx, c.meter, time.Since(start))

	if len(apiResp.Choices) == 0 {
		return nil, newError(c.name, false, errors.New("empty response"))
	}

	return &Completion{
		ReplyText: apiResp.Choices[0].Message.Content,
		Usage:     apiResp.Usage,
	}, nil
}
