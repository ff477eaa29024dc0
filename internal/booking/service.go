package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/slots"
	"github.com/vitacare/concierge/internal/store"
)

const (
	calendarKeyPrefix = "calendar_event:"
	calendarKeyTTL    = 7 * 24 * time.Hour
	buttonsDelay      = 3 * time.Second
)

// Config is the static part of the booking service.
type Config struct {
	ClinicName       string
	ClinicAddress    string
	StaffNotifyPhone string
	ClinicEnabled    bool
}

// Service runs the self-service booking page flow: show a pending
// link's slots, confirm one transactionally, then fan out the
// follow-through messages.
type Service struct {
	stores     *store.Stores
	jobs       *queue.Client
	rdb        *redis.Client
	aggregator *slots.Aggregator
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(stores *store.Stores, jobs *queue.Client, rdb *redis.Client, aggregator *slots.Aggregator, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		stores:     stores,
		jobs:       jobs,
		rdb:        rdb,
		aggregator: aggregator,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Page is what the booking page renders for one token.
type Page struct {
	Link    *model.BookingLink
	Doctor  *model.Doctor
	Service *model.Service
	Slots   []model.Slot
}

// ErrLinkNotFound maps to 404 at the HTTP layer.
var ErrLinkNotFound = errors.New("booking: link not found")

// Load fetches the link and, while it is still usable, the slots to
// offer. Used and expired links come back with no slots so the page can
// explain instead of 404ing.
func (s *Service) Load(ctx context.Context, token string) (*Page, error) {
	link, err := s.stores.BookingLinks.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	page := &Page{Link: link}
	if link.DoctorID != uuid.Nil {
		if doc, err := s.stores.Doctors.GetByID(ctx, link.DoctorID); err == nil {
			page.Doctor = doc
		}
	}
	if link.ServiceID != uuid.Nil {
		if svc, err := s.stores.Services.GetByID(ctx, link.ServiceID); err == nil {
			page.Service = svc
		}
	}
	if link.Status != model.LinkPending || s.now().After(link.ExpiresAt) {
		return page, nil
	}

	req := slots.Request{Specialty: link.Specialty, Period: link.Period}
	if page.Doctor != nil {
		req.DoctorExternalID = page.Doctor.ExternalID
	}
	page.Slots = slots.Distribute(s.aggregator.Aggregate(ctx, req), slots.DefaultMax)
	return page, nil
}

// ConfirmInput is the booking form submission.
type ConfirmInput struct {
	Token      string
	Name       string
	CPF        string // raw, digits or formatted
	BirthDate  string // DD/MM/YYYY as typed, or already YYYY-MM-DD
	SlotAt     time.Time
	SlotSource model.SlotSource
}

// Confirm books the chosen slot. The outcome tells the HTTP layer what
// happened; only ConfirmOK has side effects beyond the transaction.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*store.ConfirmBookingResult, error) {
	link, err := s.stores.BookingLinks.GetByToken(ctx, in.Token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &store.ConfirmBookingResult{Outcome: store.ConfirmNotFound}, nil
		}
		return nil, err
	}

	duration := 30
	if link.ServiceID != uuid.Nil {
		if svc, err := s.stores.Services.GetByID(ctx, link.ServiceID); err == nil && svc.DurationMinutes > 0 {
			duration = svc.DurationMinutes
		}
	}

	result, err := s.stores.BookingTx.ConfirmBooking(ctx, store.ConfirmBookingParams{
		Token:           in.Token,
		PatientName:     strings.TrimSpace(in.Name),
		CPFHash:         HashCPF(in.CPF),
		BirthDate:       NormalizeBirthDate(in.BirthDate),
		SlotAt:          in.SlotAt,
		DoctorID:        link.DoctorID,
		ServiceID:       link.ServiceID,
		DurationMinutes: duration,
		FallbackSlot:    in.SlotSource == model.SlotSourceFallback,
		ClinicEnabled:   s.cfg.ClinicEnabled,
		Now:             s.now(),
	})
	if err != nil {
		return nil, err
	}
	if result.Outcome == store.ConfirmOK {
		s.afterConfirm(ctx, result, in.SlotSource == model.SlotSourceFallback, time.Duration(duration)*time.Minute)
	}
	return result, nil
}

// afterConfirm runs the post-transaction fanout. Everything here is
// best effort: the booking already stands.
func (s *Service) afterConfirm(ctx context.Context, res *store.ConfirmBookingResult, fallbackSlot bool, duration time.Duration) {
	appt := res.Appointment
	link := res.Link

	if appt.SyncStatus == model.SyncPending {
		if _, err := s.jobs.Enqueue(ctx, queue.QueueSync, queue.SyncPayload{AppointmentID: appt.ID}, queue.Opts{
			MaxAttempts: 3,
			BackoffBase: 5 * time.Second,
		}); err != nil {
			s.logger.Error("sync enqueue failed", "appointment", appt.ID, "error", err)
		}
	}

	if fallbackSlot && s.cfg.StaffNotifyPhone != "" {
		text := fmt.Sprintf(
			"⚠️ Agendamento em horário não confirmado pela agenda: %s, paciente %s (%s). Verificar disponibilidade.",
			appt.ScheduledAt.Format("02/01/2006 15:04"), res.Patient.Name, link.PatientPhone,
		)
		if _, err := s.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
			Phone: s.cfg.StaffNotifyPhone,
			Text:  text,
		}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second}); err != nil {
			s.logger.Error("staff notify enqueue failed", "appointment", appt.ID, "error", err)
		}
	}

	greeting := "Prontinho"
	if name := firstName(res.Patient.Name); name != "" {
		greeting = "Prontinho, " + name
	}
	confirmation := fmt.Sprintf(
		"%s! Sua consulta está agendada para %s. 🎉\n\nQualquer imprevisto é só chamar por aqui.",
		greeting, appt.ScheduledAt.Format("02/01/2006 às 15:04"),
	)
	if fallbackSlot {
		confirmation = fmt.Sprintf(
			"Recebemos seu agendamento para %s! Nossa equipe vai confirmar o horário e te avisa por aqui. 😊",
			appt.ScheduledAt.Format("02/01/2006 às 15:04"),
		)
	}
	if _, err := s.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		ConversationID: link.ConversationID,
		Phone:          link.PatientPhone,
		Text:           confirmation,
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second}); err != nil {
		s.logger.Error("confirmation enqueue failed", "appointment", appt.ID, "error", err)
	}

	url := calendarURL(
		"Consulta - "+s.cfg.ClinicName,
		"Agendado pelo WhatsApp.",
		s.cfg.ClinicAddress,
		appt.ScheduledAt,
		duration,
	)
	if err := s.rdb.Set(ctx, calendarKeyPrefix+appt.ID.String(), url, calendarKeyTTL).Err(); err != nil {
		s.logger.Warn("calendar url store failed", "appointment", appt.ID, "error", err)
	}

	if _, err := s.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		ConversationID: link.ConversationID,
		Phone:          link.PatientPhone,
		Interactive: &model.Interactive{
			Kind: model.InteractiveButtons,
			Text: "Quer adicionar a consulta na sua agenda?",
			Buttons: []model.Button{
				{ID: "cal_" + appt.ID.String(), Label: "Adicionar à agenda"},
				{ID: "cal_ok", Label: "Não precisa"},
			},
		},
	}, queue.Opts{Delay: buttonsDelay}); err != nil {
		s.logger.Error("calendar buttons enqueue failed", "appointment", appt.ID, "error", err)
	}
}

// CalendarURL resolves a stored calendar link by appointment id, for
// the cal_{id} button fast path. Empty when expired or unknown.
func (s *Service) CalendarURL(ctx context.Context, appointmentID string) string {
	url, err := s.rdb.Get(ctx, calendarKeyPrefix+appointmentID).Result()
	if err != nil {
		return ""
	}
	return url
}

// HashCPF strips formatting and hashes the CPF; only the hash is ever
// stored.
func HashCPF(cpf string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, cpf)
	if digits == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(digits))
	return hex.EncodeToString(sum[:])
}

// NormalizeBirthDate accepts DD/MM/YYYY (how Brazilians type it) and
// returns YYYY-MM-DD. Input already in ISO form passes through;
// anything else comes back empty.
func NormalizeBirthDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse("02/01/2006", raw); err == nil {
		return t.Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return raw
	}
	return ""
}

func firstName(full string) string {
	full = strings.TrimSpace(full)
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
