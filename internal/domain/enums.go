// Package domain defines the core domain models shared by the store and the client core.
package domain

// SenderRole identifies who authored a message.
type SenderRole string

const (
	SenderRoleDoctor  SenderRole = "doctor"
	SenderRolePatient SenderRole = "patient"
)

// Valid reports whether r is one of the two enumerated roles.
func (r SenderRole) Valid() bool {
	return r == SenderRoleDoctor || r == SenderRolePatient
}

// AudioPlaceholder is the reserved original content of a message created to carry audio
// before the clip has been attached.
const AudioPlaceholder = "(Audio Message)"

// NotificationType represents the type of a change notification pushed to subscribers.
type NotificationType string

const (
	NotificationConversationChanged NotificationType = "conversation_changed"
)

// ChangeReason says why a conversation changed.
type ChangeReason string

const (
	ChangeReasonMessageCreated    ChangeReason = "message_created"
	ChangeReasonAudioAttached     ChangeReason = "audio_attached"
	ChangeReasonTranslationFilled ChangeReason = "translation_filled"
)
