// Package service implements the store-side operations of clinichat and the
// background translation worker.
package service

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/adapter/audiostore"
	"github.com/xiaot623/clinichat/internal/config"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/repository"
	"github.com/xiaot623/clinichat/internal/summarize"
	"github.com/xiaot623/clinichat/internal/translate"
	"github.com/xiaot623/clinichat/policy"
)

// Notifier is told whenever a conversation's visible log changes.
type Notifier interface {
	NotifyChanged(conversationID, messageID int64, reason domain.ChangeReason)
}

type Service struct {
	store        store.Store
	audio        *audiostore.Store
	translator   translate.Translator
	summarizer   summarize.Summarizer
	policyEngine *policy.Engine
	notifier     Notifier
	config       *config.Config
	logger       zerolog.Logger
}

func New(
	store store.Store,
	audio *audiostore.Store,
	translator translate.Translator,
	summarizer summarize.Summarizer,
	policyEngine *policy.Engine,
	notifier Notifier,
	cfg *config.Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:        store,
		audio:        audio,
		translator:   translator,
		summarizer:   summarizer,
		policyEngine: policyEngine,
		notifier:     notifier,
		config:       cfg,
		logger:       logger.With().Str("component", "service").Logger(),
	}
}

func (s *Service) notify(conversationID, messageID int64, reason domain.ChangeReason) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyChanged(conversationID, messageID, reason)
}

func (s *Service) sweepInterval() time.Duration {
	if s.config == nil || s.config.TranslationSweepInterval <= 0 {
		return time.Second
	}
	return s.config.TranslationSweepInterval
}

func (s *Service) maxTranslationAttempts() int {
	if s.config == nil || s.config.TranslationMaxAttempts <= 0 {
		return 3
	}
	return s.config.TranslationMaxAttempts
}

func (s *Service) llmTimeout() time.Duration {
	if s.config == nil || s.config.LLMTimeout <= 0 {
		return 30 * time.Second
	}
	return s.config.LLMTimeout
}
