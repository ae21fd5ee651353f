package domain

import (
	"sort"
	"time"
)

// Conversation groups the messages exchanged between one doctor and one patient.
type Conversation struct {
	ID              int64     `json:"id"`
	DoctorLanguage  string    `json:"doctor_language"`
	PatientLanguage string    `json:"patient_language"`
	Title           *string   `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
}

// Languages returns the source and target language for a message sent by role.
func (c *Conversation) Languages(role SenderRole) (source, target string) {
	if role == SenderRoleDoctor {
		return c.DoctorLanguage, c.PatientLanguage
	}
	return c.PatientLanguage, c.DoctorLanguage
}

// Message is a single entry of a conversation log.
type Message struct {
	ID                int64      `json:"id"`
	ConversationID    int64      `json:"conversation_id"`
	SenderRole        SenderRole `json:"sender_role"`
	OriginalContent   *string    `json:"original_content"`
	TranslatedContent *string    `json:"translated_content"`
	AudioPath         *string    `json:"audio_path"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsAudioPlaceholder reports whether the message was created to carry audio.
func (m *Message) IsAudioPlaceholder() bool {
	return m.OriginalContent != nil && *m.OriginalContent == AudioPlaceholder
}

// AudioPending reports whether the message is a placeholder still waiting for its clip.
func (m *Message) AudioPending() bool {
	return m.IsAudioPlaceholder() && m.AudioPath == nil
}

// NeedsTranslation reports whether the message has text that has not been translated yet.
func (m *Message) NeedsTranslation() bool {
	return m.OriginalContent != nil && *m.OriginalContent != "" &&
		!m.IsAudioPlaceholder() && m.TranslatedContent == nil
}

// Summary is a generated digest of a conversation.
type Summary struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SummaryText    string    `json:"summary_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageLess orders messages by creation time, breaking ties by id.
func MessageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMessages sorts messages in display order in place.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return MessageLess(messages[i], messages[j])
	})
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the string p points to, or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
