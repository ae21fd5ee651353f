package domain

// CreateConversationRequest represents the request to open a conversation.
type CreateConversationRequest struct {
	DoctorLanguage  string  `json:"doctor_language"`
	PatientLanguage string  `json:"patient_language"`
	Title           *string `json:"title,omitempty"`
}

// CreateMessageRequest represents the request to append a message to a conversation.
type CreateMessageRequest struct {
	ConversationID    int64      `json:"conversation_id"`
	SenderRole        SenderRole `json:"sender_role"`
	OriginalContent   *string    `json:"original_content,omitempty"`
	TranslatedContent *string    `json:"translated_content,omitempty"`
	AudioPath         *string    `json:"audio_path,omitempty"`
}

// AudioClip is a finished recording ready for upload.
type AudioClip struct {
	Filename string
	MIMEType string
	Data     []byte
}

// AttachAudioResponse represents the response after uploading a clip for a message.
type AttachAudioResponse struct {
	AudioURL string `json:"audio_url"`
}

// ErrorResponse is the body of every non-success response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Notification is pushed to websocket subscribers of a conversation.
type Notification struct {
	Type           NotificationType `json:"type"`
	Ts             int64            `json:"ts"`
	ConversationID int64            `json:"conversation_id"`
	MessageID      int64            `json:"message_id,omitempty"`
	Reason         ChangeReason     `json:"reason,omitempty"`
}
