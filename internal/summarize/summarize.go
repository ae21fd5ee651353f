// Package summarize produces clinical digests of a conversation.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/clinichat/internal/adapter/llm"
	"github.com/xiaot623/clinichat/internal/domain"
)

// ErrNoContent is returned when none of the messages carry text.
var ErrNoContent = errors.New("no conversation content to summarize")

// Summarizer condenses a conversation. Its output is not deterministic.
type Summarizer interface {
	Summarize(ctx context.Context, messages []domain.Message) (string, error)
}

const summaryInstruction = `You are a medical assistant.

Summarize the following doctor-patient conversation.

Focus on:
- Symptoms
- Diagnoses
- Medications
- Follow-up actions

Return a concise, structured summary.`

// LLMSummarizer summarizes with a chat completion model.
type LLMSummarizer struct {
	client llm.LLMClient
	model  string
}

// NewLLMSummarizer creates a summarizer backed by client.
func NewLLMSummarizer(client llm.LLMClient, model string) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model}
}

// Summarize sends the transcript of messages to the model.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []domain.Message) (string, error) {
	transcript := Transcript(messages)
	if transcript == "" {
		return "", ErrNoContent
	}

	resp, err := s.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: s.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: summaryInstruction},
			{Role: "user", Content: "Conversation:\n" + transcript},
		},
		Temperature: llm.Float64(0.4),
		MaxTokens:   llm.Int(600),
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	out := strings.TrimSpace(llm.FirstContent(resp))
	if out == "" {
		return "", errors.New("empty summary")
	}
	return out, nil
}

// Transcript renders messages as "Role said: text" lines, preferring the
// translation when one exists. Audio placeholders and blank messages are skipped.
func Transcript(messages []domain.Message) string {
	var lines []string
	for _, msg := range messages {
		if msg.IsAudioPlaceholder() {
			continue
		}
		text := domain.Deref(msg.TranslatedContent)
		if strings.TrimSpace(text) == "" {
			text = domain.Deref(msg.OriginalContent)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s said: %s", roleLabel(msg.SenderRole), text))
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role domain.SenderRole) string {
	s := string(role)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
