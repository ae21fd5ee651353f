package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
)

func (s *Service) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	doctorLang := strings.TrimSpace(req.DoctorLanguage)
	patientLang := strings.TrimSpace(req.PatientLanguage)
	if doctorLang == "" || patientLang == "" {
		return nil, fmt.Errorf("%w: doctor_language and patient_language are required", ErrInvalidRequest)
	}

	conv := &domain.Conversation{
		DoctorLanguage:  doctorLang,
		PatientLanguage: patientLang,
		Title:           req.Title,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	metrics.ConversationsCreated.Inc()
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	conversations, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}
