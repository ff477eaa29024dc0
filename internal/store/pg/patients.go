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

// PGPatientStore implements store.PatientStore backed by Postgres.
type PGPatientStore struct {
	db *sql.DB
}

func NewPGPatientStore(db *sql.DB) *PGPatientStore {
	return &PGPatientStore{db: db}
}

const patientSelectCols = `id, phone, name, cpf_hash, birth_date, external_id, source, created_at`

func (s *PGPatientStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patientSelectCols+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (s *PGPatientStore) GetByPhone(ctx context.Context, phone string) (*model.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patientSelectCols+` FROM patients WHERE phone = $1`, phone)
	return scanPatient(row)
}

func (s *PGPatientStore) Create(ctx context.Context, p *model.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, phone, name, cpf_hash, birth_date, external_id, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Phone, nilStr(p.Name), nilStr(p.CPFHash), nilStr(p.BirthDate),
		nilInt(p.ExternalID), nilStr(p.Source), p.CreatedAt,
	)
	return err
}

func (s *PGPatientStore) Update(ctx context.Context, p *model.Patient) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE patients SET name = $1, cpf_hash = $2, birth_date = $3, external_id = $4
		 WHERE id = $5`,
		nilStr(p.Name), nilStr(p.CPFHash), nilStr(p.BirthDate), nilInt(p.ExternalID), p.ID,
	)
	return err
}

func scanPatient(row *sql.Row) (*model.Patient, error) {
	var p model.Patient
	var name, cpfHash, birthDate, source sql.NullString
	var externalID sql.NullInt64
	err := row.Scan(&p.ID, &p.Phone, &name, &cpfHash, &birthDate, &externalID, &source, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.CPFHash = cpfHash.String
	p.BirthDate = birthDate.String
	p.ExternalID = int(externalID.Int64)
	p.Source = source.String
	return &p, nil
}

// --- shared null helpers ---

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nilUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}

func nilTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
