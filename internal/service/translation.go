package service

import (
	"context"
	"time"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
)

const translationBatchSize = 20

// RunTranslationWorker fills missing translations until ctx is cancelled.
func (s *Service) RunTranslationWorker(ctx context.Context) {
	if s.translator == nil {
		s.logger.Warn().Msg("no translator configured, translation worker disabled")
		return
	}

	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepTranslations(ctx)
		}
	}
}

// SweepTranslations translates one batch of pending messages and reports how
// many translations were written.
func (s *Service) SweepTranslations(ctx context.Context) int {
	if s.translator == nil {
		return 0
	}

	pending, err := s.store.ListPendingTranslations(ctx, s.maxTranslationAttempts(), translationBatchSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("translation sweep failed")
		return 0
	}

	filled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return filled
		}

		source, target := p.SourceAndTarget()
		callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout())
		text, err := s.translator.Translate(callCtx, domain.Deref(p.Message.OriginalContent), source, target)
		cancel()

		if err != nil {
			metrics.TranslationsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn().Err(err).
				Int64("message_id", p.Message.ID).
				Int("attempt", p.Attempts+1).
				Msg("translation failed")
			if err := s.store.RecordTranslationFailure(ctx, p.Message.ID); err != nil {
				s.logger.Warn().Err(err).Int64("message_id", p.Message.ID).Msg("failed to record translation attempt")
			}
			continue
		}

		updated, err := s.store.SetTranslation(ctx, p.Message.ID, text)
		if err != nil {
			s.logger.Warn().Err(err).Int64("message_id", p.Message.ID).Msg("failed to store translation")
			continue
		}
		if !updated {
			continue
		}

		filled++
		metrics.TranslationsTotal.WithLabelValues("ok").Inc()
		metrics.TranslationLag.Observe(time.Since(p.Message.CreatedAt).Seconds())
		s.notify(p.Message.ConversationID, p.Message.ID, domain.ChangeReasonTranslationFilled)
	}
	return filled
}
