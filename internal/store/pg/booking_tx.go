package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

// PGBookingConfirmer implements store.BookingConfirmer. The whole
// confirmation runs in one transaction with the link row locked, so two
// concurrent confirmations of the same token serialize and the loser
// sees the used link.
type PGBookingConfirmer struct {
	db *sql.DB
}

func NewPGBookingConfirmer(db *sql.DB) *PGBookingConfirmer {
	return &PGBookingConfirmer{db: db}
}

func (s *PGBookingConfirmer) ConfirmBooking(ctx context.Context, p store.ConfirmBookingParams) (*store.ConfirmBookingResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	link, err := lockLink(ctx, tx, p.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &store.ConfirmBookingResult{Outcome: store.ConfirmNotFound}, nil
		}
		return nil, err
	}
	switch {
	case link.Status == model.LinkBooked:
		return &store.ConfirmBookingResult{Outcome: store.ConfirmUsed, Link: link}, nil
	case link.Status == model.LinkExpired, p.Now.After(link.ExpiresAt):
		return &store.ConfirmBookingResult{Outcome: store.ConfirmExpired, Link: link}, nil
	}

	duration := time.Duration(p.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	if p.DoctorID != uuid.Nil {
		conflict, err := hasConflict(ctx, tx, p.DoctorID, p.SlotAt, p.SlotAt.Add(duration))
		if err != nil {
			return nil, err
		}
		if conflict {
			return &store.ConfirmBookingResult{Outcome: store.ConfirmConflict, Link: link}, nil
		}
	}

	patient, err := upsertPatient(ctx, tx, link.PatientPhone, p)
	if err != nil {
		return nil, err
	}

	status := model.AppointmentScheduled
	if p.FallbackSlot {
		// Synthetic slot: the clinic still has to ratify it.
		status = model.AppointmentPendingConfirmation
	}
	syncStatus := model.SyncSkipped
	if p.ClinicEnabled {
		syncStatus = model.SyncPending
	}
	appt := &model.Appointment{
		ID:             store.GenNewID(),
		PatientID:      patient.ID,
		DoctorID:       p.DoctorID,
		ServiceID:      p.ServiceID,
		ScheduledAt:    p.SlotAt,
		Status:         status,
		CreatedBy:      "booking_link",
		ConversationID: link.ConversationID,
		SyncStatus:     syncStatus,
		CreatedAt:      p.Now,
	}
	if _, err := tx.ExecContext(ctx, insertAppointmentSQL, insertAppointmentArgs(appt)...); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE booking_links SET status = $1, appointment_id = $2, booked_at = $3
		 WHERE id = $4`,
		model.LinkBooked, appt.ID, p.Now, link.ID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	link.Status = model.LinkBooked
	link.AppointmentID = appt.ID
	link.BookedAt = p.Now
	return &store.ConfirmBookingResult{
		Outcome:     store.ConfirmOK,
		Link:        link,
		Appointment: appt,
		Patient:     patient,
	}, nil
}

func lockLink(ctx context.Context, tx *sql.Tx, token string) (*model.BookingLink, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+linkSelectCols+` FROM booking_links WHERE token = $1 FOR UPDATE`, token)
	var l model.BookingLink
	var patientName, specialty, period sql.NullString
	var conversationID, doctorID, serviceID, appointmentID *uuid.UUID
	var bookedAt *time.Time
	err := row.Scan(&l.ID, &l.Token, &l.PatientPhone, &patientName, &conversationID,
		&specialty, &doctorID, &serviceID, &period, &l.Status, &l.ExpiresAt,
		&appointmentID, &bookedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.PatientName = patientName.String
	l.Specialty = specialty.String
	l.Period = period.String
	if conversationID != nil {
		l.ConversationID = *conversationID
	}
	if doctorID != nil {
		l.DoctorID = *doctorID
	}
	if serviceID != nil {
		l.ServiceID = *serviceID
	}
	if appointmentID != nil {
		l.AppointmentID = *appointmentID
	}
	if bookedAt != nil {
		l.BookedAt = *bookedAt
	}
	return &l, nil
}

// upsertPatient finds or creates the patient by phone and backfills
// name, CPF hash and birth date the form supplied but the row lacks.
func upsertPatient(ctx context.Context, tx *sql.Tx, phone string, p store.ConfirmBookingParams) (*model.Patient, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+patientSelectCols+` FROM patients WHERE phone = $1 FOR UPDATE`, phone)
	var patient model.Patient
	var name, cpfHash, birthDate, source sql.NullString
	var externalID sql.NullInt64
	err := row.Scan(&patient.ID, &patient.Phone, &name, &cpfHash, &birthDate, &externalID, &source, &patient.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		patient = model.Patient{
			ID:        store.GenNewID(),
			Phone:     phone,
			Name:      p.PatientName,
			CPFHash:   p.CPFHash,
			BirthDate: p.BirthDate,
			Source:    "booking_link",
			CreatedAt: p.Now,
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO patients (id, phone, name, cpf_hash, birth_date, external_id, source, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			patient.ID, patient.Phone, nilStr(patient.Name), nilStr(patient.CPFHash),
			nilStr(patient.BirthDate), nil, nilStr(patient.Source), patient.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		return &patient, nil
	}
	if err != nil {
		return nil, err
	}
	patient.Name = name.String
	patient.CPFHash = cpfHash.String
	patient.BirthDate = birthDate.String
	patient.ExternalID = int(externalID.Int64)
	patient.Source = source.String

	changed := false
	if patient.Name == "" && p.PatientName != "" {
		patient.Name = p.PatientName
		changed = true
	}
	if patient.CPFHash == "" && p.CPFHash != "" {
		patient.CPFHash = p.CPFHash
		changed = true
	}
	if patient.BirthDate == "" && p.BirthDate != "" {
		patient.BirthDate = p.BirthDate
		changed = true
	}
	if changed {
		_, err := tx.ExecContext(ctx,
			`UPDATE patients SET name = $1, cpf_hash = $2, birth_date = $3 WHERE id = $4`,
			nilStr(patient.Name), nilStr(patient.CPFHash), nilStr(patient.BirthDate), patient.ID,
		)
		if err != nil {
			return nil, err
		}
	}
	return &patient, nil
}
