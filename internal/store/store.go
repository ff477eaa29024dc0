package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
)

// ErrNotFound is returned by Get-style operations when no row matches.
var ErrNotFound = errors.New("store: not found")

// GenNewID returns a time-ordered UUID for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Patients      PatientStore
	Doctors       DoctorStore
	Services      ServiceStore
	Appointments  AppointmentStore
	BookingLinks  BookingLinkStore
	Escalations   EscalationStore
	Conversations ConversationStore
	Knowledge     KnowledgeStore
	BookingTx     BookingConfirmer
}

type PatientStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	GetByPhone(ctx context.Context, phone string) (*model.Patient, error)
	Create(ctx context.Context, p *model.Patient) error
	Update(ctx context.Context, p *model.Patient) error
}

type DoctorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
	ListActive(ctx context.Context) ([]model.Doctor, error)
	ListBySpecialty(ctx context.Context, specialty string) ([]model.Doctor, error)
}

type ServiceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error)
	ListActive(ctx context.Context) ([]model.Service, error)
	FindByName(ctx context.Context, name string) (*model.Service, error)
}

type AppointmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Create(ctx context.Context, a *model.Appointment) error
	Cancel(ctx context.Context, id uuid.UUID) error
	// HasConflict reports whether the doctor already has a non-cancelled
	// appointment starting in [from, to).
	HasConflict(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (bool, error)
	ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, after time.Time) ([]model.Appointment, error)
	// ListScheduledBetween lists non-cancelled appointments with
	// scheduled_at in [from, to), for reminder and confirmation sweeps.
	ListScheduledBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	UpdateSync(ctx context.Context, id uuid.UUID, status model.SyncStatus, syncErr string, attempts int) error
	SetStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) error
}

type BookingLinkStore interface {
	Create(ctx context.Context, l *model.BookingLink) error
	GetByToken(ctx context.Context, token string) (*model.BookingLink, error)
	// ExpirePending flips pending links whose expiry has passed and
	// returns how many were touched.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

type EscalationStore interface {
	Create(ctx context.Context, e *model.Escalation) error
}

type ConversationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	// GetActiveByPhone returns the most recent non-closed conversation for
	// the phone, or ErrNotFound.
	GetActiveByPhone(ctx context.Context, phone string) (*model.Conversation, error)
	Create(ctx context.Context, c *model.Conversation) error
	// Save persists the full mutable state (messages, state history,
	// metrics, flags).
	Save(ctx context.Context, c *model.Conversation) error
}

// ConfirmOutcome is the verdict of a booking-link confirmation attempt.
type ConfirmOutcome string

const (
	ConfirmOK       ConfirmOutcome = "ok"
	ConfirmNotFound ConfirmOutcome = "not_found"
	ConfirmUsed     ConfirmOutcome = "used"
	ConfirmExpired  ConfirmOutcome = "expired"
	ConfirmConflict ConfirmOutcome = "conflict"
)

// ConfirmBookingParams is everything the confirmation transaction
// needs. CPFHash and BirthDate arrive already normalized.
type ConfirmBookingParams struct {
	Token           string
	PatientName     string
	CPFHash         string
	BirthDate       string // YYYY-MM-DD
	SlotAt          time.Time
	DoctorID        uuid.UUID
	ServiceID       uuid.UUID
	DurationMinutes int
	FallbackSlot    bool
	ClinicEnabled   bool
	Now             time.Time
}

// ConfirmBookingResult reports what the transaction did. Appointment
// and Patient are set only on ConfirmOK.
type ConfirmBookingResult struct {
	Outcome     ConfirmOutcome
	Link        *model.BookingLink
	Appointment *model.Appointment
	Patient     *model.Patient
}

// BookingConfirmer turns a pending link into a booked appointment in
// one transaction: link state, slot conflict, patient upsert and the
// appointment insert either all land or none do.
type BookingConfirmer interface {
	ConfirmBooking(ctx context.Context, params ConfirmBookingParams) (*ConfirmBookingResult, error)
}

type KnowledgeStore interface {
	// FindExact looks a question up by normalized key.
	FindExact(ctx context.Context, key string) (*model.KnowledgeEntry, error)
	// Search does a crude text match, capped at limit.
	Search(ctx context.Context, query string, limit int) ([]model.KnowledgeEntry, error)
}
