package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
	"github.com/xiaot623/clinichat/internal/summarize"
)

// GenerateSummary summarizes a conversation and stores the result.
func (s *Service) GenerateSummary(ctx context.Context, conversationID int64) (*domain.Summary, error) {
	messages, err := s.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		metrics.SummariesGenerated.WithLabelValues("empty").Inc()
		return nil, ErrNoMessages
	}
	if s.summarizer == nil {
		metrics.SummariesGenerated.WithLabelValues("failed").Inc()
		return nil, ErrSummaryUnavailable
	}

	text, err := s.summarizer.Summarize(ctx, messages)
	if errors.Is(err, summarize.ErrNoContent) {
		metrics.SummariesGenerated.WithLabelValues("empty").Inc()
		return nil, ErrNoMessages
	}
	if err != nil {
		metrics.SummariesGenerated.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Int64("conversation_id", conversationID).Msg("summarizer failed")
		return nil, fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
	}

	summary := &domain.Summary{ConversationID: conversationID, SummaryText: text}
	if err := s.store.CreateSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to store summary: %w", err)
	}
	metrics.SummariesGenerated.WithLabelValues("ok").Inc()
	return summary, nil
}
