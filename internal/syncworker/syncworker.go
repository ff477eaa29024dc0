// Package syncworker propagates locally booked appointments into the
// clinic's scheduling system. A failed sync never invalidates the
// booking; it only marks the appointment for staff follow-up.
package syncworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/clinic"
	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/store"
)

// ClinicAPI is the slice of the clinic client the worker touches.
type ClinicAPI interface {
	IdentifyByPhone(ctx context.Context, phone string) (*clinic.PatientRef, error)
	CreatePatient(ctx context.Context, in clinic.CreatePatientRequest) (int, error)
	CreateBooking(ctx context.Context, in clinic.BookingRequest) (string, error)
}

// Worker handles clinic-sync jobs.
type Worker struct {
	stores *store.Stores
	api    ClinicAPI
	logger *slog.Logger
}

func NewWorker(stores *store.Stores, api ClinicAPI, logger *slog.Logger) *Worker {
	return &Worker{stores: stores, api: api, logger: logger}
}

// Handle syncs one appointment. Returning an error schedules a retry;
// unrecoverable states (missing mapping, already synced) end the job
// without one.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.SyncPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	attempt := job.AttemptsMade + 1

	appt, err := w.stores.Appointments.GetByID(ctx, p.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Warn("sync for missing appointment", "appointment", p.AppointmentID)
			return nil
		}
		return err
	}
	if appt.SyncStatus == model.SyncSynced || appt.Status == model.AppointmentCancelled {
		return nil
	}

	if appt.DoctorID == uuid.Nil {
		return w.fail(ctx, appt, attempt, "appointment has no doctor assigned")
	}
	doctor, err := w.stores.Doctors.GetByID(ctx, appt.DoctorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return w.fail(ctx, appt, attempt, "doctor record missing")
		}
		return err
	}
	if doctor.ExternalID == 0 {
		// No clinic-side mapping; retrying cannot fix this.
		return w.fail(ctx, appt, attempt, fmt.Sprintf("doctor %s has no clinic id", doctor.Name))
	}

	patient, err := w.stores.Patients.GetByID(ctx, appt.PatientID)
	if err != nil {
		return err
	}

	externalID, err := w.ensureClinicPatient(ctx, patient)
	if err != nil {
		return w.retryOrFail(ctx, appt, job, attempt, fmt.Errorf("clinic patient: %w", err))
	}

	_, err = w.api.CreateBooking(ctx, clinic.BookingRequest{
		PatientExternalID: externalID,
		DoctorExternalID:  doctor.ExternalID,
		Date:              appt.ScheduledAt.Format("2006-01-02"),
		Time:              appt.ScheduledAt.Format("15:04"),
	})
	if err != nil {
		return w.retryOrFail(ctx, appt, job, attempt, fmt.Errorf("clinic booking: %w", err))
	}

	if err := w.stores.Appointments.UpdateSync(ctx, appt.ID, model.SyncSynced, "", attempt); err != nil {
		return err
	}
	w.logger.Info("appointment synced", "appointment", appt.ID, "attempt", attempt)
	return nil
}

// ensureClinicPatient resolves or creates the clinic-side patient and
// backfills the local external id.
func (w *Worker) ensureClinicPatient(ctx context.Context, patient *model.Patient) (int, error) {
	if patient.ExternalID != 0 {
		return patient.ExternalID, nil
	}

	ref, err := w.api.IdentifyByPhone(ctx, patient.Phone)
	if err != nil {
		return 0, err
	}
	externalID := 0
	if ref != nil {
		externalID = ref.ID
	} else {
		externalID, err = w.api.CreatePatient(ctx, clinic.CreatePatientRequest{
			Name:      patient.Name,
			BirthDate: patient.BirthDate,
			Phone:     patient.Phone,
		})
		if err != nil {
			return 0, err
		}
	}

	patient.ExternalID = externalID
	if err := w.stores.Patients.Update(ctx, patient); err != nil {
		w.logger.Warn("external id backfill failed", "patient", patient.ID, "error", err)
	}
	return externalID, nil
}

// fail marks the appointment permanently failed and ends the job.
func (w *Worker) fail(ctx context.Context, appt *model.Appointment, attempt int, reason string) error {
	w.logger.Error("sync failed permanently", "appointment", appt.ID, "reason", reason)
	return w.stores.Appointments.UpdateSync(ctx, appt.ID, model.SyncFailed, reason, attempt)
}

// retryOrFail records the error and, when attempts remain, returns it
// so the queue schedules a retry. On the last attempt the appointment
// flips to failed and the error still propagates to drop the job.
func (w *Worker) retryOrFail(ctx context.Context, appt *model.Appointment, job *queue.Job, attempt int, cause error) error {
	status := model.SyncPending
	if attempt >= job.MaxAttempts {
		status = model.SyncFailed
	}
	if err := w.stores.Appointments.UpdateSync(ctx, appt.ID, status, cause.Error(), attempt); err != nil {
		w.logger.Error("sync status update failed", "appointment", appt.ID, "error", err)
	}
	return cause
}
