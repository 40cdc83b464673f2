package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OllamaRequest represents the request body for the Ollama API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
}

// OllamaResponse represents the response from the Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// OllamaClient talks to a local Ollama server
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewOllamaClient creates an Ollama client. No credential required.
func NewOllamaClient(baseURL string, timeout time.Duration, tracer trace.Tracer, meter metric.Meter) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     tracer,
		meter:      meter,
	}
}

var _ Client = (*OllamaClient)(nil)

func (c *OllamaClient) Complete(ctx context.Context, modelID string, messages []Message) (*Completion, error) {
	ctx, span := c.tracer.Start(ctx, "ollama_api_call")
	defer span.End()

	start := time.Now()

	reqBody := OllamaRequest{
		Model:    modelID,
		Messages: wireMessages(messages),
		Stream:   false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError("ollama", false, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, newError("ollama", false, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError("ollama", true, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError("ollama", true, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newError("ollama", retryableStatus(resp.StatusCode),
			fmt.Errorf("API error: %s - %s", resp.Status, string(body)))
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, newError("ollama", false, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	recordCallDuration(ctx, c.meter, time.Since(start))

	return &Completion{ReplyText: apiResp.Message.Content}, nil
}
