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

// PGBookingLinkStore implements store.BookingLinkStore backed by Postgres.
type PGBookingLinkStore struct {
	db *sql.DB
}

func NewPGBookingLinkStore(db *sql.DB) *PGBookingLinkStore {
	return &PGBookingLinkStore{db: db}
}

const linkSelectCols = `id, token, patient_phone, patient_name, conversation_id, specialty,
	doctor_id, service_id, period, status, expires_at, appointment_id, booked_at, created_at`

func (s *PGBookingLinkStore) Create(ctx context.Context, l *model.BookingLink) error {
	if l.ID == uuid.Nil {
		l.ID = store.GenNewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO booking_links
		 (id, token, patient_phone, patient_name, conversation_id, specialty,
		  doctor_id, service_id, period, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.Token, l.PatientPhone, nilStr(l.PatientName), nilUUID(l.ConversationID),
		nilStr(l.Specialty), nilUUID(l.DoctorID), nilUUID(l.ServiceID), nilStr(l.Period),
		l.Status, l.ExpiresAt, l.CreatedAt,
	)
	return err
}

func (s *PGBookingLinkStore) GetByToken(ctx context.Context, token string) (*model.BookingLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkSelectCols+` FROM booking_links WHERE token = $1`, token)
	return scanBookingLink(row)
}

func (s *PGBookingLinkStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE booking_links SET status = $1
		 WHERE status = $2 AND expires_at < $3`,
		model.LinkExpired, model.LinkPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanBookingLink(row *sql.Row) (*model.BookingLink, error) {
	var l model.BookingLink
	var patientName, specialty, period sql.NullString
	var conversationID, doctorID, serviceID, appointmentID *uuid.UUID
	var bookedAt *time.Time
	err := row.Scan(&l.ID, &l.Token, &l.PatientPhone, &patientName, &conversationID,
		&specialty, &doctorID, &serviceID, &period, &l.Status, &l.ExpiresAt,
		&appointmentID, &bookedAt, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
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
