// Package translate turns message text from one language into another.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/clinichat/internal/adapter/llm"
)

// ErrEmptyTranslation is returned when the model answers with no text.
var ErrEmptyTranslation = errors.New("empty translation")

// Translator translates text between two languages. It may be slow or fail.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// LLMTranslator translates with a chat completion model.
type LLMTranslator struct {
	client llm.LLMClient
	model  string
}

// NewLLMTranslator creates a translator backed by client.
func NewLLMTranslator(client llm.LLMClient, model string) *LLMTranslator {
	return &LLMTranslator{client: client, model: model}
}

// Translate translates medical text, preserving terminology.
// Blank text is returned unchanged without calling the model.
func (t *LLMTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	instruction := fmt.Sprintf(
		"Translate the following medical message accurately from %s to %s. "+
			"Preserve medical terminology. Reply with the translation only.",
		sourceLang, targetLang)

	resp, err := t.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: t.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: text},
		},
		Temperature: llm.Float64(0.3),
		MaxTokens:   llm.Int(512),
	})
	if err != nil {
		return "", fmt.Errorf("failed to translate: %w", err)
	}

	out := strings.TrimSpace(llm.FirstContent(resp))
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}
