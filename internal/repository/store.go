// Package store defines the storage interface and its SQLite implementation.
package store

import (
	"context"

	"github.com/xiaot623/clinichat/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conversation *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, messageID int64) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)
	SearchMessages(ctx context.Context, query string, conversationID *int64) ([]domain.Message, error)
	AttachAudio(ctx context.Context, messageID int64, audioPath string) (bool, error)

	// Translation operations
	ListPendingTranslations(ctx context.Context, maxAttempts, limit int) ([]PendingTranslation, error)
	SetTranslation(ctx context.Context, messageID int64, translated string) (bool, error)
	RecordTranslationFailure(ctx context.Context, messageID int64) error

	// Summary operations
	CreateSummary(ctx context.Context, summary *domain.Summary) error

	// Lifecycle
	Close() error
}

// PendingTranslation is a message waiting for the translation worker, with the
// languages of its conversation.
type PendingTranslation struct {
	Message         domain.Message
	DoctorLanguage  string
	PatientLanguage string
	Attempts        int
}

// SourceAndTarget returns the translation direction for the message.
func (p *PendingTranslation) SourceAndTarget() (string, string) {
	conv := domain.Conversation{DoctorLanguage: p.DoctorLanguage, PatientLanguage: p.PatientLanguage}
	return conv.Languages(p.Message.SenderRole)
}
