// Package messagelog is the HTTP client of the clinichat store API.
// It performs no retries; every failure is returned as a TransportError or a RemoteError.
package messagelog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/clinichat/internal/domain"
)

// DefaultTimeout bounds a single call when none is configured.
const DefaultTimeout = 10 * time.Second

// Client is an HTTP client for the store API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new store client. Each call is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// BaseURL returns the store address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateConversation calls POST /v1/conversations.
func (c *Client) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.doJSON(ctx, "create conversation", http.MethodPost, "/v1/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation calls GET /v1/conversations/:conversation_id.
func (c *Client) GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	var conv domain.Conversation
	path := "/v1/conversations/" + strconv.FormatInt(conversationID, 10)
	if err := c.doJSON(ctx, "get conversation", http.MethodGet, path, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations calls GET /v1/conversations.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	if err := c.doJSON(ctx, "list conversations", http.MethodGet, "/v1/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// CreateMessage calls POST /v1/messages.
func (c *Client) CreateMessage(ctx context.Context, req domain.CreateMessageRequest) (*domain.Message, error) {
	var msg domain.Message
	if err := c.doJSON(ctx, "create message", http.MethodPost, "/v1/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the log of a conversation sorted by (created_at, id),
// whatever order the store answered in.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	var messages []domain.Message
	path := "/v1/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
	if err := c.doJSON(ctx, "list messages", http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	domain.SortMessages(messages)
	return messages, nil
}

// SearchMessages finds messages containing query. A blank query returns an
// empty result without contacting the store.
func (c *Client) SearchMessages(ctx context.Context, query string, conversationID *int64) ([]domain.Message, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.Message{}, nil
	}

	params := url.Values{}
	params.Set("q", query)
	if conversationID != nil {
		params.Set("conversation_id", strconv.FormatInt(*conversationID, 10))
	}

	var messages []domain.Message
	if err := c.doJSON(ctx, "search messages", http.MethodGet, "/v1/messages/search?"+params.Encode(), nil, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// AttachAudio uploads clip for messageID as multipart fields file and message_id.
func (c *Client) AttachAudio(ctx context.Context, messageID int64, clip domain.AudioClip) (*domain.AttachAudioResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("message_id", strconv.FormatInt(messageID, 10)); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	filename := clip.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	contentType := clip.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	var resp domain.AttachAudioResponse
	if err := c.do(ctx, "attach audio", http.MethodPost, "/v1/audio/upload", &body, w.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSummary calls GET /v1/ai/summary/:conversation_id.
func (c *Client) GetSummary(ctx context.Context, conversationID int64) (*domain.Summary, error) {
	var summary domain.Summary
	path := "/v1/ai/summary/" + strconv.FormatInt(conversationID, 10)
	if err := c.doJSON(ctx, "get summary", http.MethodGet, path, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp domain.ErrorResponse
		detail := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Detail != "" {
			detail = errResp.Detail
		}
		return &RemoteError{Status: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
