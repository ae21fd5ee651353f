package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
)

// CreateMessage appends a message to a conversation. It never waits for translation.
func (s *Service) CreateMessage(ctx context.Context, req domain.CreateMessageRequest) (*domain.Message, error) {
	if !req.SenderRole.Valid() {
		return nil, ErrInvalidRole
	}
	if _, err := s.GetConversation(ctx, req.ConversationID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ConversationID:    req.ConversationID,
		SenderRole:        req.SenderRole,
		OriginalContent:   req.OriginalContent,
		TranslatedContent: req.TranslatedContent,
		AudioPath:         req.AudioPath,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	kind := "text"
	if msg.IsAudioPlaceholder() {
		kind = "audio_placeholder"
	}
	metrics.MessagesCreated.WithLabelValues(string(msg.SenderRole), kind).Inc()
	s.notify(msg.ConversationID, msg.ID, domain.ChangeReasonMessageCreated)

	return msg, nil
}

// ListMessages returns a conversation's messages ordered by (created_at, id).
func (s *Service) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// SearchMessages finds messages containing query literally, newest first.
func (s *Service) SearchMessages(ctx context.Context, query string, conversationID *int64) ([]domain.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	messages, err := s.store.SearchMessages(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	metrics.SearchQueries.Inc()
	return messages, nil
}
