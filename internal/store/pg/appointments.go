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

// PGAppointmentStore implements store.AppointmentStore backed by Postgres.
type PGAppointmentStore struct {
	db *sql.DB
}

func NewPGAppointmentStore(db *sql.DB) *PGAppointmentStore {
	return &PGAppointmentStore{db: db}
}

const apptSelectCols = `id, patient_id, doctor_id, service_id, scheduled_at, status,
	created_by, conversation_id, sync_status, sync_error, sync_attempts, created_at`

func (s *PGAppointmentStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apptSelectCols+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(rowScanner{row})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (s *PGAppointmentStore) Create(ctx context.Context, a *model.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertAppointmentSQL, insertAppointmentArgs(a)...)
	return err
}

// insertAppointmentSQL is shared with the booking transaction.
const insertAppointmentSQL = `INSERT INTO appointments
	(id, patient_id, doctor_id, service_id, scheduled_at, status,
	 created_by, conversation_id, sync_status, sync_error, sync_attempts, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func insertAppointmentArgs(a *model.Appointment) []interface{} {
	return []interface{}{
		a.ID, a.PatientID, nilUUID(a.DoctorID), nilUUID(a.ServiceID),
		a.ScheduledAt, a.Status, nilStr(a.CreatedBy), nilUUID(a.ConversationID),
		a.SyncStatus, nilStr(a.SyncError), a.SyncAttempts, a.CreatedAt,
	}
}

func (s *PGAppointmentStore) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET status = $1 WHERE id = $2 AND status <> $1`,
		model.AppointmentCancelled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGAppointmentStore) HasConflict(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (bool, error) {
	return hasConflict(ctx, s.db, doctorID, from, to)
}

// hasConflict is shared with the booking transaction; q may be a *sql.DB
// or a *sql.Tx.
func hasConflict(ctx context.Context, q queryer, doctorID uuid.UUID, from, to time.Time) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
			  AND status <> $4
		)`, doctorID, from, to, model.AppointmentCancelled,
	).Scan(&exists)
	return exists, err
}

func (s *PGAppointmentStore) ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, after time.Time) ([]model.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apptSelectCols+` FROM appointments
		 WHERE patient_id = $1 AND scheduled_at >= $2 AND status <> $3
		 ORDER BY scheduled_at`, patientID, after, model.AppointmentCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (s *PGAppointmentStore) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apptSelectCols+` FROM appointments
		 WHERE scheduled_at >= $1 AND scheduled_at < $2 AND status <> $3
		 ORDER BY scheduled_at`, from, to, model.AppointmentCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (s *PGAppointmentStore) UpdateSync(ctx context.Context, id uuid.UUID, status model.SyncStatus, syncErr string, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET sync_status = $1, sync_error = $2, sync_attempts = $3
		 WHERE id = $4`,
		status, nilStr(syncErr), attempts, id)
	return err
}

func (s *PGAppointmentStore) SetStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET status = $1 WHERE id = $2`, status, id)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

type rowScanner struct{ *sql.Row }

func scanAppointment(sc scanner) (*model.Appointment, error) {
	var a model.Appointment
	var doctorID, serviceID, conversationID *uuid.UUID
	var createdBy, syncErr sql.NullString
	err := sc.Scan(&a.ID, &a.PatientID, &doctorID, &serviceID, &a.ScheduledAt, &a.Status,
		&createdBy, &conversationID, &a.SyncStatus, &syncErr, &a.SyncAttempts, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if doctorID != nil {
		a.DoctorID = *doctorID
	}
	if serviceID != nil {
		a.ServiceID = *serviceID
	}
	if conversationID != nil {
		a.ConversationID = *conversationID
	}
	a.CreatedBy = createdBy.String
	a.SyncError = syncErr.String
	return &a, nil
}

func collectAppointments(rows *sql.Rows) ([]model.Appointment, error) {
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
