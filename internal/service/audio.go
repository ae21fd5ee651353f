package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xiaot623/clinichat/internal/adapter/audiostore"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
	"github.com/xiaot623/clinichat/policy"
)

// AudioUpload is a clip received for an existing message.
type AudioUpload struct {
	MessageID   int64
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachAudio stores the clip and links it to the message exactly once.
func (s *Service) AttachAudio(ctx context.Context, upload AudioUpload) (*domain.AttachAudioResponse, error) {
	resp, err := s.attachAudio(ctx, upload)
	switch {
	case err == nil:
		metrics.AudioUploads.WithLabelValues("attached").Inc()
	case errors.Is(err, ErrUploadRejected):
		metrics.AudioUploads.WithLabelValues("rejected").Inc()
	case errors.Is(err, ErrAudioAlreadyAttached):
		metrics.AudioUploads.WithLabelValues("conflict").Inc()
	default:
		metrics.AudioUploads.WithLabelValues("failed").Inc()
	}
	return resp, err
}

func (s *Service) attachAudio(ctx context.Context, upload AudioUpload) (*domain.AttachAudioResponse, error) {
	msg, err := s.store.GetMessage(ctx, upload.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.AudioPath != nil {
		return nil, ErrAudioAlreadyAttached
	}

	if s.policyEngine != nil {
		decision, reason, err := s.policyEngine.EvaluateUpload(ctx, policy.UploadInput{
			Size:        upload.Size,
			MaxBytes:    s.audio.MaxBytes(),
			Extension:   audiostore.Extension(upload.Filename),
			ContentType: upload.ContentType,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate upload policy: %w", err)
		}
		if decision != policy.DecisionAllow {
			return nil, fmt.Errorf("%w: %s", ErrUploadRejected, reason)
		}
	}

	blob, err := s.audio.Save(upload.Filename, upload.Body)
	if errors.Is(err, audiostore.ErrTooLarge) {
		return nil, fmt.Errorf("%w: file size exceeds %dMB limit", ErrUploadRejected, s.audio.MaxBytes()/(1024*1024))
	}
	if err != nil {
		return nil, err
	}

	attached, err := s.store.AttachAudio(ctx, upload.MessageID, blob.URL)
	if err != nil {
		_ = s.audio.Remove(blob)
		return nil, fmt.Errorf("failed to attach audio: %w", err)
	}
	if !attached {
		// Lost a race with a concurrent upload for the same message.
		_ = s.audio.Remove(blob)
		return nil, ErrAudioAlreadyAttached
	}

	s.logger.Info().Int64("message_id", upload.MessageID).Str("audio_url", blob.URL).Int64("bytes", blob.Size).Msg("audio attached")
	s.notify(msg.ConversationID, msg.ID, domain.ChangeReasonAudioAttached)

	return &domain.AttachAudioResponse{AudioURL: blob.URL}, nil
}
