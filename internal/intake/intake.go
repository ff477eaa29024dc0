// Package intake is the front door for webhook messages: dedup and
// rate gating, button fast paths, audio transcription, patient and
// conversation resolution, and handing the text to the debouncer.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitacare/concierge/internal/clinic"
	"github.com/vitacare/concierge/internal/debounce"
	"github.com/vitacare/concierge/internal/events"
	"github.com/vitacare/concierge/internal/gate"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/store"
)

const (
	sessionPrefix = "session:"
	sessionTTL    = 24 * time.Hour
	npsCtxPrefix  = "nps_ctx:"
)

// Transcriber converts a voice note into text. Nil means audio is
// unsupported and such messages are dropped.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// TelephonyAPI is the slice of the clinic client the button fast paths
// use. Nil when the clinic integration is off.
type TelephonyAPI interface {
	ConfirmAppointment(ctx context.Context, id int, status string) error
	RegisterNPS(ctx context.Context, id int, score int) error
	CheckIn(ctx context.Context, id int) error
}

// Identifier resolves a patient in the clinic system, best effort.
type Identifier interface {
	IdentifyByPhone(ctx context.Context, phone string) (*clinic.PatientRef, error)
}

// CalendarResolver resolves stored calendar links for the cal_ buttons.
type CalendarResolver interface {
	CalendarURL(ctx context.Context, appointmentID string) string
}

// Intake processes message-intake jobs.
type Intake struct {
	gate        *gate.Gate
	stores      *store.Stores
	debouncer   *debounce.Coordinator
	jobs        *queue.Client
	rdb         *redis.Client
	telephony   TelephonyAPI
	identifier  Identifier
	transcriber Transcriber
	calendars   CalendarResolver
	publisher   *events.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewIntake(
	g *gate.Gate,
	stores *store.Stores,
	debouncer *debounce.Coordinator,
	jobs *queue.Client,
	rdb *redis.Client,
	telephony TelephonyAPI,
	identifier Identifier,
	transcriber Transcriber,
	calendars CalendarResolver,
	publisher *events.Publisher,
	logger *slog.Logger,
) *Intake {
	return &Intake{
		gate:        g,
		stores:      stores,
		debouncer:   debouncer,
		jobs:        jobs,
		rdb:         rdb,
		telephony:   telephony,
		identifier:  identifier,
		transcriber: transcriber,
		calendars:   calendars,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle admits one inbound message.
func (in *Intake) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.IntakePayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	acquired, err := in.gate.Acquire(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if !acquired {
		// Duplicate webhook delivery.
		return nil
	}
	defer func() {
		if err := in.gate.Release(ctx, p.MessageID); err != nil {
			in.logger.Warn("message lock release failed", "message", p.MessageID, "error", err)
		}
	}()

	allowed, err := in.gate.Allow(ctx, p.Phone)
	if err != nil {
		return err
	}
	if !allowed {
		in.logger.Warn("sender over rate ceiling, dropping", "phone", p.Phone)
		return nil
	}

	if p.ButtonID != "" {
		handled, override, err := in.handleButton(ctx, &p)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
		if override != "" {
			p.Text = override
			p.Type = "text"
		}
	}

	msgType := model.MessageText
	switch p.Type {
	case "audio":
		if in.transcriber == nil {
			in.logger.Info("audio dropped, no transcriber configured", "phone", p.Phone)
			return nil
		}
		text, err := in.transcriber.Transcribe(ctx, p.AudioURL)
		if err != nil {
			in.logger.Warn("transcription failed", "phone", p.Phone, "error", err)
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		p.Text = text
		msgType = model.MessageAudio
	case "image":
		msgType = model.MessageImage
	case "document":
		msgType = model.MessageDocument
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil
	}

	patient, err := in.resolvePatient(ctx, &p)
	if err != nil {
		return err
	}
	conv, err := in.resolveConversation(ctx, &p, patient)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, model.Message{
		Sender:     model.SenderPatient,
		Text:       p.Text,
		Type:       msgType,
		ExternalID: p.MessageID,
		Timestamp:  in.now(),
	})
	conv.Metrics.TotalMessages++
	conv.Metrics.PatientMessages++
	conv.LastMessageAt = in.now()
	if err := in.stores.Conversations.Save(ctx, conv); err != nil {
		return err
	}

	if err := in.rdb.Set(ctx, sessionPrefix+p.Phone, conv.ID.String(), sessionTTL).Err(); err != nil {
		in.logger.Warn("session cache failed", "phone", p.Phone, "error", err)
	}
	in.publisher.Publish(ctx, events.ChannelConversations, "message.received", map[string]interface{}{
		"conversation_id": conv.ID,
		"phone":           p.Phone,
	})

	if !conv.IsAIHandling {
		return nil
	}
	return in.debouncer.Schedule(ctx, conv.ID, p.Phone, p.Text)
}

// handleButton runs the structured-reply fast paths. handled means the
// turn is over; override rewrites the text and continues the normal
// flow.
func (in *Intake) handleButton(ctx context.Context, p *queue.IntakePayload) (handled bool, override string, err error) {
	id := p.ButtonID
	switch {
	case id == "cal_ok":
		return true, "", in.reply(ctx, p.Phone, "Combinado! Qualquer coisa é só chamar. 😊")

	case strings.HasPrefix(id, "cal_"):
		apptID := strings.TrimPrefix(id, "cal_")
		if in.calendars != nil {
			if url := in.calendars.CalendarURL(ctx, apptID); url != "" {
				return true, "", in.reply(ctx, p.Phone, "Aqui está o link para adicionar na sua agenda:\n\n"+url)
			}
		}
		return true, "", in.reply(ctx, p.Phone, "Não encontrei mais esse evento, mas sua consulta continua agendada!")

	case strings.HasPrefix(id, "confirm_"):
		return true, "", in.telephonyAnswer(ctx, p.Phone, strings.TrimPrefix(id, "confirm_"),
			clinic.StatusConfirmed, "Presença confirmada, até lá! 🙌")

	case strings.HasPrefix(id, "cancel_"):
		return true, "", in.telephonyAnswer(ctx, p.Phone, strings.TrimPrefix(id, "cancel_"),
			clinic.StatusRefused, "Tudo bem, sua consulta foi desmarcada. Quando quiser remarcar é só chamar.")

	case strings.HasPrefix(id, "reschedule_"):
		// Falls through to the agent with an explicit reschedule ask.
		return false, "quero remarcar minha consulta", nil

	case strings.HasPrefix(id, "nps_"):
		return true, "", in.recordNPS(ctx, p.Phone, strings.TrimPrefix(id, "nps_"))

	case strings.HasPrefix(id, "checkin_"):
		apptID, convErr := strconv.Atoi(strings.TrimPrefix(id, "checkin_"))
		if convErr != nil || in.telephony == nil {
			return true, "", in.reply(ctx, p.Phone, "Não consegui fazer seu check-in por aqui, fale com a recepção. 🙏")
		}
		if err := in.telephony.CheckIn(ctx, apptID); err != nil {
			in.logger.Error("checkin failed", "phone", p.Phone, "error", err)
			return true, "", in.reply(ctx, p.Phone, "Não consegui fazer seu check-in por aqui, fale com a recepção. 🙏")
		}
		// Ask how the visit went a few hours later.
		if _, err := in.jobs.Enqueue(ctx, queue.QueueNPS, queue.NPSPayload{
			Phone:      p.Phone,
			ExternalID: strconv.Itoa(apptID),
		}, queue.Opts{Delay: 3 * time.Hour}); err != nil {
			in.logger.Error("nps enqueue failed", "phone", p.Phone, "error", err)
		}
		return true, "", in.reply(ctx, p.Phone, "Check-in feito! Pode aguardar que logo você será chamado. ✅")
	}
	return false, "", nil
}

func (in *Intake) telephonyAnswer(ctx context.Context, phone, rawID, status, ack string) error {
	id, err := strconv.Atoi(rawID)
	if err != nil || in.telephony == nil {
		return in.reply(ctx, phone, "Não consegui registrar sua resposta, nossa equipe vai entrar em contato.")
	}
	if err := in.telephony.ConfirmAppointment(ctx, id, status); err != nil {
		in.logger.Error("confirmation answer failed", "phone", phone, "status", status, "error", err)
		return in.reply(ctx, phone, "Não consegui registrar sua resposta, nossa equipe vai entrar em contato.")
	}
	return in.reply(ctx, phone, ack)
}

func (in *Intake) recordNPS(ctx context.Context, phone, rawScore string) error {
	score, err := strconv.Atoi(rawScore)
	if err != nil || score < 0 || score > 10 {
		return in.reply(ctx, phone, "Obrigado pelo retorno!")
	}

	if in.telephony != nil {
		visitID, err := in.rdb.Get(ctx, npsCtxPrefix+phone).Result()
		if err == nil {
			if id, convErr := strconv.Atoi(visitID); convErr == nil {
				if err := in.telephony.RegisterNPS(ctx, id, score); err != nil {
					in.logger.Error("nps register failed", "phone", phone, "error", err)
				}
			}
			in.rdb.Del(ctx, npsCtxPrefix+phone)
		}
	}
	if score >= 9 {
		return in.reply(ctx, phone, "Que bom que você gostou! Obrigado pela avaliação. 💙")
	}
	return in.reply(ctx, phone, "Obrigado pela avaliação! Vamos trabalhar para melhorar.")
}

// StoreNPSContext remembers which clinic visit the sender's next NPS
// button answer refers to. The NPS sweep sets it when asking for the
// score.
func StoreNPSContext(ctx context.Context, rdb *redis.Client, phone, visitID string, ttl time.Duration) error {
	return rdb.Set(ctx, npsCtxPrefix+phone, visitID, ttl).Err()
}

// reply enqueues a plain outbound message outside any conversation
// turn.
func (in *Intake) reply(ctx context.Context, phone, text string) error {
	_, err := in.jobs.Enqueue(ctx, queue.QueueSend, queue.SendPayload{
		Phone: phone,
		Text:  text,
	}, queue.Opts{MaxAttempts: 3, BackoffBase: 2 * time.Second})
	return err
}

func (in *Intake) resolvePatient(ctx context.Context, p *queue.IntakePayload) (*model.Patient, error) {
	patient, err := in.stores.Patients.GetByPhone(ctx, p.Phone)
	if errors.Is(err, store.ErrNotFound) {
		patient = &model.Patient{
			Phone:  p.Phone,
			Name:   p.PushName,
			Source: "whatsapp",
		}
		if err := in.stores.Patients.Create(ctx, patient); err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if in.identifier != nil && patient.ExternalID == 0 {
		ref, err := in.identifier.IdentifyByPhone(ctx, p.Phone)
		if err != nil {
			in.logger.Debug("clinic identify failed", "phone", p.Phone, "error", err)
		} else if ref != nil {
			patient.ExternalID = ref.ID
			if patient.Name == "" {
				patient.Name = ref.Name
			}
			if err := in.stores.Patients.Update(ctx, patient); err != nil {
				in.logger.Warn("patient identify backfill failed", "patient", patient.ID, "error", err)
			}
		}
	}
	return patient, nil
}

func (in *Intake) resolveConversation(ctx context.Context, p *queue.IntakePayload, patient *model.Patient) (*model.Conversation, error) {
	conv, err := in.stores.Conversations.GetActiveByPhone(ctx, p.Phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = &model.Conversation{
		PatientPhone: p.Phone,
		PatientName:  patient.Name,
		PatientID:    patient.ID,
		InstanceName: p.InstanceName,
		State:        model.StateGreeting,
		IsAIHandling: true,
		CreatedAt:    in.now(),
	}
	if err := in.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	in.publisher.Publish(ctx, events.ChannelConversations, "conversation.started", map[string]interface{}{
		"conversation_id": conv.ID,
		"phone":           p.Phone,
	})
	return conv, nil
}
