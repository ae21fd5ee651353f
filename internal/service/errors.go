package service

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAudioAlreadyAttached = errors.New("audio already attached")
	ErrNoMessages           = errors.New("no messages found to summarize")
	ErrInvalidRole          = errors.New("sender_role must be 'doctor' or 'patient'")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrEmptyQuery           = errors.New("search query is required")
	ErrUploadRejected       = errors.New("upload rejected")
	ErrSummaryUnavailable   = errors.New("summary unavailable")
)
