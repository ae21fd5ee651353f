package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const completionsPath = "/v1/chat/completions"

// maxResponseBytes bounds how much of a completion body is read.
const maxResponseBytes = 4 << 20

// StatusError is a non-200 answer from the completion endpoint.
type StatusError struct {
	Status  int
	Message string
	Type    string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("LLM API error [%d]: %s (type: %s)", e.Status, e.Message, e.Type)
	}
	return fmt.Sprintf("LLM API error [%d]: %s", e.Status, e.Message)
}

// Client talks to an OpenAI-compatible endpoint such as Groq or LiteLLM.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(baseURL, "/") + completionsPath,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateChatCompletion requests a single, non-streamed completion.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	payload := *req
	payload.Stream = false

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read completion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw)
	}

	var out ChatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode completion: %w", err)
	}
	return &out, nil
}

func statusError(status int, raw []byte) *StatusError {
	var envelope ErrorResponse
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		return &StatusError{Status: status, Message: envelope.Error.Message, Type: envelope.Error.Type}
	}
	return &StatusError{Status: status, Message: strings.TrimSpace(string(raw))}
}
