// Package linker sends voice messages in two phases: a placeholder message
// is created first, then the recorded clip is attached to it.
package linker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/adapter/messagelog"
	"github.com/xiaot623/clinichat/internal/adapter/pendingqueue"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
)

// MessageLog is the part of the log client the linker needs.
type MessageLog interface {
	CreateMessage(ctx context.Context, req domain.CreateMessageRequest) (*domain.Message, error)
	AttachAudio(ctx context.Context, messageID int64, clip domain.AudioClip) (*domain.AttachAudioResponse, error)
}

// PendingStore keeps clips whose attachment failed.
type PendingStore interface {
	Put(e pendingqueue.Entry) error
	List() ([]pendingqueue.Entry, error)
	RecordFailure(messageID int64, cause error) error
	Delete(messageID int64) error
}

// PartialCommitError means the placeholder exists but the clip is not attached.
type PartialCommitError struct {
	Message *domain.Message
	Err     error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("message %d created but audio not attached: %v", e.Message.ID, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// DefaultMaxAttempts bounds background retries of one queued clip.
const DefaultMaxAttempts = 5

// Linker coordinates the two phases of a voice send.
type Linker struct {
	log     MessageLog
	pending PendingStore
	logger  zerolog.Logger

	// MaxAttempts is how many failed retries drop a queued clip. Zero or less
	// means DefaultMaxAttempts.
	MaxAttempts int

	// OnLinked runs after a clip is attached, typically to refresh the view.
	OnLinked func(conversationID, messageID int64)
}

// New creates a linker. pending may be nil, in which case failed
// attachments are only reported to the caller.
func New(log MessageLog, pending PendingStore, logger zerolog.Logger) *Linker {
	return &Linker{log: log, pending: pending, logger: logger}
}

// SendVoice creates the placeholder message and attaches clip to it.
// A Phase 1 failure is returned as is. A Phase 2 failure returns a
// *PartialCommitError and the placeholder is left in place.
func (l *Linker) SendVoice(ctx context.Context, conversationID int64, role domain.SenderRole, clip domain.AudioClip) (*domain.Message, error) {
	msg, err := l.log.CreateMessage(ctx, domain.CreateMessageRequest{
		ConversationID:  conversationID,
		SenderRole:      role,
		OriginalContent: domain.StringPtr(domain.AudioPlaceholder),
	})
	if err != nil {
		metrics.VoiceSends.WithLabelValues("phase1_failed").Inc()
		return nil, err
	}

	resp, err := l.log.AttachAudio(ctx, msg.ID, clip)
	if err != nil {
		metrics.VoiceSends.WithLabelValues("partial_commit").Inc()
		l.logger.Warn().Err(err).
			Int64("message_id", msg.ID).
			Int64("conversation_id", conversationID).
			Msg("audio attach failed, placeholder kept")
		l.enqueue(msg, clip, err)
		return msg, &PartialCommitError{Message: msg, Err: err}
	}

	msg.AudioPath = domain.StringPtr(resp.AudioURL)
	metrics.VoiceSends.WithLabelValues("linked").Inc()
	l.linked(conversationID, msg.ID)
	return msg, nil
}

// Attach re-runs Phase 2 for an existing placeholder. A 409 from the store
// means the clip is already attached and counts as success.
func (l *Linker) Attach(ctx context.Context, conversationID, messageID int64, clip domain.AudioClip) error {
	_, err := l.log.AttachAudio(ctx, messageID, clip)
	if err != nil && !messagelog.IsStatus(err, http.StatusConflict) {
		return err
	}
	if l.pending != nil {
		if derr := l.pending.Delete(messageID); derr != nil {
			l.logger.Warn().Err(derr).Int64("message_id", messageID).Msg("failed to drop pending attachment")
		}
	}
	l.linked(conversationID, messageID)
	return nil
}

// RetryPending re-attempts every queued attachment and returns how many
// were linked. A clip the store rejects for good (a 4xx other than 409) or
// one that used up MaxAttempts is dropped from the queue; its placeholder
// stays and can still be retried by hand.
func (l *Linker) RetryPending(ctx context.Context) (int, error) {
	if l.pending == nil {
		return 0, nil
	}
	entries, err := l.pending.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending attachments: %w", err)
	}

	linked := 0
	var errs []error
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.Attempts >= l.maxAttempts() {
			l.abandon(e, errors.New(e.LastError))
			continue
		}
		err := l.Attach(ctx, e.ConversationID, e.MessageID, e.Clip)
		if err == nil {
			linked++
			continue
		}

		errs = append(errs, fmt.Errorf("message %d: %w", e.MessageID, err))
		if IsPermanent(err) || e.Attempts+1 >= l.maxAttempts() {
			l.abandon(e, err)
			continue
		}
		if rerr := l.pending.RecordFailure(e.MessageID, err); rerr != nil {
			l.logger.Warn().Err(rerr).Int64("message_id", e.MessageID).Msg("failed to record attach failure")
		}
	}
	return linked, errors.Join(errs...)
}

// IsPermanent reports whether retrying the same upload cannot succeed:
// the store answered with a client error such as a policy rejection or an
// unknown message. Timeouts and rate limits stay retryable.
func IsPermanent(err error) bool {
	var remote *messagelog.RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	switch remote.Status {
	case http.StatusConflict, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return remote.Status >= 400 && remote.Status < 500
}

func (l *Linker) abandon(e pendingqueue.Entry, cause error) {
	metrics.VoiceSends.WithLabelValues("abandoned").Inc()
	l.logger.Warn().Err(cause).
		Int64("message_id", e.MessageID).
		Int("attempts", e.Attempts).
		Msg("giving up on pending audio")
	if err := l.pending.Delete(e.MessageID); err != nil {
		l.logger.Warn().Err(err).Int64("message_id", e.MessageID).Msg("failed to drop pending attachment")
	}
}

func (l *Linker) maxAttempts() int {
	if l.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return l.MaxAttempts
}

// RunRelinker calls RetryPending every interval until ctx is cancelled.
func (l *Linker) RunRelinker(ctx context.Context, interval time.Duration) {
	if l.pending == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.RetryPending(ctx)
			if n > 0 {
				l.logger.Info().Int("linked", n).Msg("pending audio attached")
			}
			if err != nil {
				l.logger.Debug().Err(err).Msg("pending audio still failing")
			}
		}
	}
}

func (l *Linker) enqueue(msg *domain.Message, clip domain.AudioClip, cause error) {
	if l.pending == nil {
		return
	}
	entry := pendingqueue.Entry{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Clip:           clip,
		LastError:      cause.Error(),
	}
	if err := l.pending.Put(entry); err != nil {
		l.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to queue pending attachment")
	}
}

func (l *Linker) linked(conversationID, messageID int64) {
	if l.OnLinked != nil {
		l.OnLinked(conversationID, messageID)
	}
}
