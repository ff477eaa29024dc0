package queue

import (
	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
)

// Typed payloads for each queue. Kept together so producers and
// consumers agree on the wire shape.

// IntakePayload carries one raw inbound webhook event.
type IntakePayload struct {
	MessageID    string `json:"message_id"`
	Phone        string `json:"phone"`
	PushName     string `json:"push_name,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
	Type         string `json:"type"` // text, audio, image, document, button
	Text         string `json:"text,omitempty"`
	ButtonID     string `json:"button_id,omitempty"`
	AudioURL     string `json:"audio_url,omitempty"`
}

// PipelinePayload triggers one agent turn.
type PipelinePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Phone          string    `json:"phone"`
	Text           string    `json:"text"`
}

// SendPayload carries one outbound reply.
type SendPayload struct {
	ConversationID uuid.UUID          `json:"conversation_id"`
	Phone          string             `json:"phone"`
	Text           string             `json:"text"`
	Interactive    *model.Interactive `json:"interactive,omitempty"`
}

// FollowUpPayload re-engages a quiet conversation.
type FollowUpPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Phone          string    `json:"phone"`
}

// AnalyticsPayload records one processed turn for reporting.
type AnalyticsPayload struct {
	ConversationID   uuid.UUID               `json:"conversation_id"`
	Intent           string                  `json:"intent"`
	State            model.ConversationState `json:"state"`
	Escalated        bool                    `json:"escalated"`
	PromptTokens     int                     `json:"prompt_tokens"`
	CompletionTokens int                     `json:"completion_tokens"`
	LatencyMS        int64                   `json:"latency_ms"`
}

// SyncPayload propagates one appointment to the clinic system.
type SyncPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

// ReminderPayload sends one appointment reminder.
type ReminderPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

// ConfirmationPayload asks the patient to confirm tomorrow's visit.
// The ids are clinic-side (telephony list), not local appointments.
type ConfirmationPayload struct {
	ExternalID int    `json:"external_id"`
	Phone      string `json:"phone"`
	Patient    string `json:"patient,omitempty"`
	Doctor     string `json:"doctor,omitempty"`
	Date       string `json:"date"` // YYYY-MM-DD
	Time       string `json:"time"` // HH:MM
}

// NPSPayload asks for a satisfaction score after a finished visit.
type NPSPayload struct {
	Phone      string `json:"phone"`
	ExternalID string `json:"external_id,omitempty"` // clinic-side visit id
}
