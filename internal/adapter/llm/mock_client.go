package llm

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"
)

// MockPrefix marks every reply produced by MockClient.
const MockPrefix = "[MOCK] "

var _ LLMClient = (*MockClient)(nil)

// MockClient answers without a network. Its reply is the last user
// message behind MockPrefix, which keeps translations and summaries
// predictable in tests and in MOCK mode.
type MockClient struct {
	// Err, when set, is returned by every call.
	Err error

	calls atomic.Int64
}

// NewMockClient creates a mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int64 {
	return m.calls.Load()
}

func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	n := m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	return &ChatCompletionResponse{
		ID:      "mock-" + strconv.FormatInt(n, 10),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: MockReply(req)},
			FinishReason: "stop",
		}},
	}, nil
}

// MockReply is the content MockClient answers req with.
func MockReply(req *ChatCompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if msg := req.Messages[i]; msg.Role == "user" && msg.Content != "" {
			return MockPrefix + msg.Content
		}
	}
	return MockPrefix + "no input"
}
