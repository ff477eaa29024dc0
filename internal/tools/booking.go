package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

const bookingTimeLayout = "2006-01-02 15:04"

// BookAppointmentTool creates an appointment directly when the patient
// settles on a slot in chat.
type BookAppointmentTool struct {
	appointments store.AppointmentStore
	patients     store.PatientStore
	doctors      store.DoctorStore
	services     store.ServiceStore
	// clinicEnabled decides whether the new appointment waits for
	// external sync or skips it.
	clinicEnabled bool
	now           func() time.Time
}

func NewBookAppointmentTool(appointments store.AppointmentStore, patients store.PatientStore, doctors store.DoctorStore, services store.ServiceStore, clinicEnabled bool) *BookAppointmentTool {
	return &BookAppointmentTool{
		appointments:  appointments,
		patients:      patients,
		doctors:       doctors,
		services:      services,
		clinicEnabled: clinicEnabled,
		now:           time.Now,
	}
}

func (t *BookAppointmentTool) Name() string { return "book_appointment" }

func (t *BookAppointmentTool) Description() string {
	return "Book an appointment at a specific date and time the patient agreed to. Use 'YYYY-MM-DD HH:mm' format."
}

func (t *BookAppointmentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"datetime": map[string]interface{}{
				"type":        "string",
				"description": "Slot start, format 'YYYY-MM-DD HH:mm'.",
			},
			"patient_name": map[string]interface{}{
				"type":        "string",
				"description": "The patient's full name as they stated it.",
			},
			"doctor_id": map[string]interface{}{
				"type":        "string",
				"description": "Doctor id from check_availability, optional.",
			},
			"service_name": map[string]interface{}{
				"type":        "string",
				"description": "Service being booked, optional.",
			},
		},
		"required": []string{"datetime", "patient_name"},
	}
}

func (t *BookAppointmentTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	if turn.Patient == nil {
		return ErrorResult("patient record unavailable for this conversation")
	}

	raw, _ := args["datetime"].(string)
	at, err := time.ParseInLocation(bookingTimeLayout, raw, t.now().Location())
	if err != nil {
		return ErrorResult("datetime must be 'YYYY-MM-DD HH:mm'")
	}
	if !at.After(t.now()) {
		return ErrorResult("datetime is in the past")
	}

	name, _ := args["patient_name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrorResult("patient_name is required, ask the patient for their name")
	}
	if name != turn.Patient.Name {
		turn.Patient.Name = name
		if err := t.patients.Update(ctx, turn.Patient); err != nil {
			return ErrorResult("could not save the patient's name").WithError(err)
		}
	}

	var doctorID uuid.UUID
	if s, _ := args["doctor_id"].(string); s != "" {
		doctorID, err = uuid.Parse(s)
		if err != nil {
			return ErrorResult("doctor_id is not a valid id")
		}
	}

	var serviceID uuid.UUID
	duration := 30 * time.Minute
	if name, _ := args["service_name"].(string); name != "" {
		svc, err := t.services.FindByName(ctx, name)
		if err == nil {
			serviceID = svc.ID
			if svc.DurationMinutes > 0 {
				duration = time.Duration(svc.DurationMinutes) * time.Minute
			}
		}
	}

	if doctorID != uuid.Nil {
		conflict, err := t.appointments.HasConflict(ctx, doctorID, at, at.Add(duration))
		if err != nil {
			return ErrorResult("could not verify the slot").WithError(err)
		}
		if conflict {
			return NewResult(`{"booked":false,"reason":"slot already taken, offer another time"}`)
		}
	}

	syncStatus := model.SyncSkipped
	if t.clinicEnabled {
		syncStatus = model.SyncPending
	}
	appt := &model.Appointment{
		PatientID:      turn.Patient.ID,
		DoctorID:       doctorID,
		ServiceID:      serviceID,
		ScheduledAt:    at,
		Status:         model.AppointmentScheduled,
		CreatedBy:      "agent",
		ConversationID: turn.Conversation.ID,
		SyncStatus:     syncStatus,
	}
	if err := t.appointments.Create(ctx, appt); err != nil {
		return ErrorResult("could not save the appointment").WithError(err)
	}

	turn.Booked = appt
	return jsonResult(map[string]interface{}{
		"booked":         true,
		"appointment_id": appt.ID,
		"scheduled_at":   at.Format(bookingTimeLayout),
	})
}

// CancelAppointmentTool cancels the patient's nearest upcoming
// appointment.
type CancelAppointmentTool struct {
	appointments store.AppointmentStore
	now          func() time.Time
}

func NewCancelAppointmentTool(appointments store.AppointmentStore) *CancelAppointmentTool {
	return &CancelAppointmentTool{appointments: appointments, now: time.Now}
}

func (t *CancelAppointmentTool) Name() string { return "cancel_appointment" }

func (t *CancelAppointmentTool) Description() string {
	return "Cancel the patient's next upcoming appointment."
}

func (t *CancelAppointmentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the patient is cancelling, optional.",
			},
		},
	}
}

func (t *CancelAppointmentTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	if turn.Patient == nil {
		return ErrorResult("patient record unavailable for this conversation")
	}

	upcoming, err := t.appointments.ListUpcomingByPatient(ctx, turn.Patient.ID, t.now())
	if err != nil {
		return ErrorResult("could not load appointments").WithError(err)
	}
	if len(upcoming) == 0 {
		return NewResult(`{"cancelled":false,"reason":"no upcoming appointment found"}`)
	}

	target := upcoming[0]
	if err := t.appointments.Cancel(ctx, target.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewResult(`{"cancelled":false,"reason":"no upcoming appointment found"}`)
		}
		return ErrorResult("could not cancel the appointment").WithError(err)
	}
	return jsonResult(map[string]interface{}{
		"cancelled":      true,
		"appointment_id": target.ID,
		"scheduled_at":   target.ScheduledAt.Format(bookingTimeLayout),
	})
}

// PatientAppointmentsTool lists what the patient has coming up.
type PatientAppointmentsTool struct {
	appointments store.AppointmentStore
	doctors      store.DoctorStore
	now          func() time.Time
}

func NewPatientAppointmentsTool(appointments store.AppointmentStore, doctors store.DoctorStore) *PatientAppointmentsTool {
	return &PatientAppointmentsTool{appointments: appointments, doctors: doctors, now: time.Now}
}

func (t *PatientAppointmentsTool) Name() string { return "get_patient_appointments" }

func (t *PatientAppointmentsTool) Description() string {
	return "List the patient's upcoming appointments."
}

func (t *PatientAppointmentsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *PatientAppointmentsTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	if turn.Patient == nil {
		return ErrorResult("patient record unavailable for this conversation")
	}

	upcoming, err := t.appointments.ListUpcomingByPatient(ctx, turn.Patient.ID, t.now())
	if err != nil {
		return ErrorResult("could not load appointments").WithError(err)
	}

	type entry struct {
		ScheduledAt string `json:"scheduled_at"`
		Status      string `json:"status"`
		Doctor      string `json:"doctor,omitempty"`
	}
	out := make([]entry, 0, len(upcoming))
	for _, a := range upcoming {
		e := entry{
			ScheduledAt: a.ScheduledAt.Format(bookingTimeLayout),
			Status:      string(a.Status),
		}
		if a.DoctorID != uuid.Nil {
			if d, err := t.doctors.GetByID(ctx, a.DoctorID); err == nil {
				e.Doctor = d.Name
			}
		}
		out = append(out, e)
	}
	return jsonResult(map[string]interface{}{"appointments": out})
}
