package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vitacare/concierge/internal/clinic"
	"github.com/vitacare/concierge/internal/intake"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/store"
)

// Cron expressions for the sweeps. Times are server-local except the
// confirmation sweep, pinned to the clinic's late-afternoon call slot.
const (
	ExprCleanup       = "0 * * * *"
	ExprReminders     = "0 21 * * *"
	ExprConfirmations = "0 17 * * *"
)

const (
	npsContextTTL = 48 * time.Hour
	analyticsTTL  = 90 * 24 * time.Hour
)

// ConfirmationLister is the clinic's daily call list.
type ConfirmationLister interface {
	ListForConfirmation(ctx context.Context, date string) ([]clinic.TelephonyAppointment, error)
}

// Handlers owns the sweep bodies and the scheduled-queue handlers.
type Handlers struct {
	stores        *store.Stores
	jobs          *queue.Client
	rdb           *redis.Client
	telephony     ConfirmationLister
	logger        *slog.Logger
	followUpDelay time.Duration
	now           func() time.Time
}

func NewHandlers(stores *store.Stores, jobs *queue.Client, rdb *redis.Client, telephony ConfirmationLister, followUpDelay time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		stores:        stores,
		jobs:          jobs,
		rdb:           rdb,
		telephony:     telephony,
		logger:        logger,
		followUpDelay: followUpDelay,
		now:           time.Now,
	}
}

// SweepCleanup enqueues the hourly booking-link expiry job.
func (h *Handlers) SweepCleanup(ctx context.Context) error {
	_, err := h.jobs.Enqueue(ctx, queue.QueueCleanup, struct{}{}, queue.Opts{})
	return err
}

// SweepReminders fans out one reminder job per appointment scheduled
// for tomorrow.
func (h *Handlers) SweepReminders(ctx context.Context) error {
	from := startOfDay(h.now().AddDate(0, 0, 1))
	to := from.AddDate(0, 0, 1)
	appts, err := h.stores.Appointments.ListScheduledBetween(ctx, from, to)
	if err != nil {
		return err
	}
	for _, a := range appts {
		if _, err := h.jobs.Enqueue(ctx, queue.QueueReminder, queue.ReminderPayload{AppointmentID: a.ID}, queue.Opts{}); err != nil {
			return err
		}
	}
	h.logger.Info("reminders queued", "count", len(appts), "for", from.Format("2006-01-02"))
	return nil
}

// SweepConfirmations pulls tomorrow's clinic call list and fans out one
// confirmation ask per entry.
func (h *Handlers) SweepConfirmations(ctx context.Context) error {
	if h.telephony == nil {
		return nil
	}
	date := h.now().AddDate(0, 0, 1).Format("2006-01-02")
	list, err := h.telephony.ListForConfirmation(ctx, date)
	if err != nil {
		return err
	}
	for _, entry := range list {
		if entry.Phone == "" {
			continue
		}
		if _, err := h.jobs.Enqueue(ctx, queue.QueueConfirmation, queue.ConfirmationPayload{
			ExternalID: entry.ID,
			Phone:      entry.Phone,
			Patient:    entry.Patient,
			Doctor:     entry.Doctor,
			Date:       entry.Date,
			Time:       entry.Time,
		}, queue.Opts{}); err != nil {
			return err
		}
	}
	h.logger.Info("confirmations queued", "count", len(list), "for", date)
	return nil
}

// HandleCleanup expires overdue pending booking links.
func (h *Handlers) HandleCleanup(ctx context.Context, job *queue.Job) error {
	n, err := h.stores.BookingLinks.ExpirePending(ctx, h.now())
	if err != nil {
		return err
	}
	if n > 0 {
		h.logger.Info("booking links expired", "count", n)
	}
	return nil
}

// HandleReminder sends the day-before reminder for one appointment.
func (h *Handlers) HandleReminder(ctx context.Context, job *queue.Job) error {
	var p queue.ReminderPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	appt, err := h.stores.Appointments.GetByID(ctx, p.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if appt.Status == model.AppointmentCancelled {
		return nil
	}
	patient, err := h.stores.Patients.GetByID(ctx, appt.PatientID)
	if err != nil {
		return err
	}

	with := ""
	if appt.DoctorID != uuid.Nil {
		if doc, err := h.stores.Doctors.GetByID(ctx, appt.DoctorID); err == nil {
			with = " com " + doc.Name
		}
	}
	text := fmt.Sprintf(
		"Oi! Passando para lembrar da sua consulta%s amanhã às %s. Até lá! 😊",
		with, appt.ScheduledAt.Format("15:04"),
	)
	_, err = h.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		ConversationID: appt.ConversationID,
		Phone:          patient.Phone,
		Text:           text,
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second})
	return err
}

// HandleConfirmation asks the patient to confirm tomorrow's visit with
// reply buttons; the answers come back through the intake fast paths.
func (h *Handlers) HandleConfirmation(ctx context.Context, job *queue.Job) error {
	var p queue.ConfirmationPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	with := ""
	if p.Doctor != "" {
		with = " com " + p.Doctor
	}
	text := fmt.Sprintf(
		"Olá! Sua consulta%s está marcada para amanhã às %s. Você confirma sua presença?",
		with, p.Time,
	)
	id := fmt.Sprint(p.ExternalID)
	_, err := h.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		Phone: p.Phone,
		Interactive: &model.Interactive{
			Kind: model.InteractiveButtons,
			Text: text,
			Buttons: []model.Button{
				{ID: "confirm_" + id, Label: "Confirmo ✅"},
				{ID: "cancel_" + id, Label: "Preciso desmarcar"},
				{ID: "reschedule_" + id, Label: "Quero remarcar"},
			},
		},
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second})
	return err
}

// HandleFollowUp nudges a patient who said they would think about it.
// Skipped when a human took over or the patient came back on their own.
func (h *Handlers) HandleFollowUp(ctx context.Context, job *queue.Job) error {
	var p queue.FollowUpPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	conv, err := h.stores.Conversations.GetByID(ctx, p.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !conv.IsAIHandling || !conv.Disengaged || conv.State == model.StateClosed {
		return nil
	}
	if h.now().Sub(conv.LastMessageAt) < h.followUpDelay {
		// The patient re-engaged in the meantime.
		return nil
	}

	text := "Oi! Passando para saber se você ainda tem interesse em agendar. Posso te ajudar com alguma coisa? 😊"
	conv.Messages = append(conv.Messages, model.Message{
		Sender:         model.SenderAgent,
		Text:           text,
		Type:           model.MessageText,
		DeliveryStatus: model.DeliveryPending,
		Timestamp:      h.now(),
	})
	conv.Metrics.TotalMessages++
	conv.Metrics.AgentMessages++
	conv.Disengaged = false
	conv.LastMessageAt = h.now()
	if err := h.stores.Conversations.Save(ctx, conv); err != nil {
		return err
	}
	_, err = h.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		ConversationID: conv.ID,
		Phone:          conv.PatientPhone,
		Text:           text,
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second})
	return err
}

// HandleNPS asks for a 0-10 score after a finished visit and remembers
// which clinic visit the answer belongs to.
func (h *Handlers) HandleNPS(ctx context.Context, job *queue.Job) error {
	var p queue.NPSPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if p.ExternalID != "" {
		if err := intake.StoreNPSContext(ctx, h.rdb, p.Phone, p.ExternalID, npsContextTTL); err != nil {
			return err
		}
	}

	rows := make([]model.ListRow, 0, 11)
	for score := 10; score >= 0; score-- {
		rows = append(rows, model.ListRow{
			ID:    fmt.Sprintf("nps_%d", score),
			Title: fmt.Sprint(score),
		})
	}
	_, err := h.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		Phone: p.Phone,
		Interactive: &model.Interactive{
			Kind:           model.InteractiveList,
			Text:           "Como foi sua visita hoje? De 0 a 10, quanto você nos recomendaria?",
			ListButtonText: "Dar nota",
			Sections: []model.ListSection{
				{Title: "Sua nota", Rows: rows},
			},
		},
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second})
	return err
}

// HandleAnalytics folds one processed turn into the daily counters.
func (h *Handlers) HandleAnalytics(ctx context.Context, job *queue.Job) error {
	var p queue.AnalyticsPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	key := "analytics:" + h.now().Format("2006-01-02")
	pipe := h.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "turns", 1)
	pipe.HIncrBy(ctx, key, "prompt_tokens", int64(p.PromptTokens))
	pipe.HIncrBy(ctx, key, "completion_tokens", int64(p.CompletionTokens))
	pipe.HIncrBy(ctx, key, "intent:"+p.Intent, 1)
	if p.Escalated {
		pipe.HIncrBy(ctx, key, "escalations", 1)
	}
	pipe.Expire(ctx, key, analyticsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
