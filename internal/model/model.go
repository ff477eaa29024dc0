package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is the lifecycle position of a conversation.
type ConversationState string

const (
	StateGreeting        ConversationState = "greeting"
	StateExploring       ConversationState = "exploring"
	StateScheduling      ConversationState = "scheduling"
	StatePriceDiscussion ConversationState = "price_discussion"
	StateServiceInquiry  ConversationState = "service_inquiry"
	StateEscalated       ConversationState = "escalated"
	StatePostBooking     ConversationState = "post_booking"
	StateFollowUp        ConversationState = "follow_up"
	StateClosed          ConversationState = "closed"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderPatient Sender = "patient"
	SenderAgent   Sender = "agent"
)

// MessageType classifies inbound media.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
)

// DeliveryStatus tracks outbound message delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// AIMetadata is attached to agent-authored messages.
type AIMetadata struct {
	PromptTokens     int                `json:"prompt_tokens"`
	CompletionTokens int                `json:"completion_tokens"`
	Model            string             `json:"model"`
	Confidence       float64            `json:"confidence"`
	Intent           string             `json:"intent"`
	StateTransition  *StateChange       `json:"state_transition,omitempty"`
	ToolsUsed        []string           `json:"tools_used,omitempty"`
	LatencyMS        int64              `json:"latency_ms"`
}

// StateChange records a single state transition.
type StateChange struct {
	From ConversationState `json:"from"`
	To   ConversationState `json:"to"`
}

// Message is one entry in a conversation log. Immutable once appended
// except for delivery status/id backfill.
type Message struct {
	Sender         Sender         `json:"sender"`
	Text           string         `json:"text"`
	Type           MessageType    `json:"type"`
	ExternalID     string         `json:"external_id,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	AI             *AIMetadata    `json:"ai,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// PriorState is a state-history entry.
type PriorState struct {
	State ConversationState `json:"state"`
	At    time.Time         `json:"at"`
}

// Metrics are aggregate per-conversation counters.
type Metrics struct {
	TotalMessages   int `json:"total_messages"`
	PatientMessages int `json:"patient_messages"`
	AgentMessages   int `json:"agent_messages"`
}

// Conversation is the full dialogue with one patient. At most one
// non-closed conversation exists per phone at a time; conversations are
// never deleted, only closed.
type Conversation struct {
	ID             uuid.UUID
	PatientPhone   string
	PatientName    string
	PatientID      uuid.UUID
	InstanceName   string
	State          ConversationState
	PriorStates    []PriorState
	Messages       []Message
	IsAIHandling   bool
	Metrics        Metrics
	Intents        []string
	Disengaged     bool
	SentimentScore float64
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

// LastAgentMessage returns a pointer to the most recent agent-authored
// message, or nil.
func (c *Conversation) LastAgentMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Sender == SenderAgent {
			return &c.Messages[i]
		}
	}
	return nil
}

// Patient mirrors the patients table.
type Patient struct {
	ID         uuid.UUID
	Phone      string
	Name       string
	CPFHash    string
	BirthDate  string // YYYY-MM-DD, empty when unknown
	ExternalID int    // id in the clinic scheduling system, 0 when unknown
	Source     string
	CreatedAt  time.Time
}

// Doctor mirrors the doctors table.
type Doctor struct {
	ID         uuid.UUID
	Name       string
	Specialty  string
	CRM        string
	ExternalID int
	IsActive   bool
}

// Service mirrors the services table.
type Service struct {
	ID              uuid.UUID
	Name            string
	Description     string
	PriceCents      int
	DurationMinutes int
	Category        string
	IsActive        bool
}

// AppointmentStatus is the local appointment lifecycle.
type AppointmentStatus string

const (
	AppointmentScheduled           AppointmentStatus = "scheduled"
	AppointmentPendingConfirmation AppointmentStatus = "pending_confirmation"
	AppointmentCancelled           AppointmentStatus = "cancelled"
)

// SyncStatus tracks propagation to the external scheduling system.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
	SyncSkipped SyncStatus = "skipped"
)

// Appointment mirrors the appointments table. Local booking is valid
// regardless of external sync outcome.
type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID // uuid.Nil when unassigned
	ServiceID      uuid.UUID
	ScheduledAt    time.Time
	Status         AppointmentStatus
	CreatedBy      string
	ConversationID uuid.UUID
	SyncStatus     SyncStatus
	SyncError      string
	SyncAttempts   int
	CreatedAt      time.Time
}

// BookingLinkStatus is the single-use link lifecycle.
type BookingLinkStatus string

const (
	LinkPending BookingLinkStatus = "pending"
	LinkBooked  BookingLinkStatus = "booked"
	LinkExpired BookingLinkStatus = "expired"
)

// BookingLink is a time-limited, single-use self-service booking token.
type BookingLink struct {
	ID             uuid.UUID
	Token          string
	PatientPhone   string
	PatientName    string
	ConversationID uuid.UUID
	Specialty      string
	DoctorID       uuid.UUID
	ServiceID      uuid.UUID
	// Period is the day part the patient prefers, "morning" or
	// "afternoon". Empty means no preference.
	Period        string
	Status        BookingLinkStatus
	ExpiresAt     time.Time
	AppointmentID uuid.UUID
	BookedAt      time.Time
	CreatedAt     time.Time
}

// SlotSource tags where an availability slot came from.
type SlotSource string

const (
	SlotSourceClinic   SlotSource = "clinic"
	SlotSourceFallback SlotSource = "fallback"
)

// Slot is a candidate appointment time. Ephemeral, never persisted.
type Slot struct {
	Date     string     `json:"date"` // YYYY-MM-DD
	Time     string     `json:"time"` // HH:MM
	DateTime time.Time  `json:"date_time"`
	Source   SlotSource `json:"source"`
}

// Escalation is a handoff from automated to human handling. The
// pipeline only ever creates these; resolution happens elsewhere.
type Escalation struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	PatientID      uuid.UUID
	Reason         string
	Priority       int // 1 highest .. 5 lowest
	Status         string
	CreatedAt      time.Time
}

// KnowledgeEntry is an exact-match knowledge base row (fallback behind
// semantic search).
type KnowledgeEntry struct {
	Key      string
	Question string
	Answer   string
	Category string
}
