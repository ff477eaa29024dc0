package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

// PGDoctorStore implements store.DoctorStore backed by Postgres.
type PGDoctorStore struct {
	db *sql.DB
}

func NewPGDoctorStore(db *sql.DB) *PGDoctorStore {
	return &PGDoctorStore{db: db}
}

const doctorSelectCols = `id, name, specialty, crm, external_id, is_active`

func (s *PGDoctorStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+doctorSelectCols+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (s *PGDoctorStore) ListActive(ctx context.Context) ([]model.Doctor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+doctorSelectCols+` FROM doctors WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDoctors(rows)
}

func (s *PGDoctorStore) ListBySpecialty(ctx context.Context, specialty string) ([]model.Doctor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+doctorSelectCols+` FROM doctors
		 WHERE is_active AND specialty ILIKE $1 ORDER BY name`, specialty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDoctors(rows)
}

func scanDoctor(row *sql.Row) (*model.Doctor, error) {
	var d model.Doctor
	var crm sql.NullString
	var externalID sql.NullInt64
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &crm, &externalID, &d.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.CRM = crm.String
	d.ExternalID = int(externalID.Int64)
	return &d, nil
}

func collectDoctors(rows *sql.Rows) ([]model.Doctor, error) {
	var out []model.Doctor
	for rows.Next() {
		var d model.Doctor
		var crm sql.NullString
		var externalID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty, &crm, &externalID, &d.IsActive); err != nil {
			return nil, err
		}
		d.CRM = crm.String
		d.ExternalID = int(externalID.Int64)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PGServiceStore implements store.ServiceStore backed by Postgres.
type PGServiceStore struct {
	db *sql.DB
}

func NewPGServiceStore(db *sql.DB) *PGServiceStore {
	return &PGServiceStore{db: db}
}

const serviceSelectCols = `id, name, description, price_cents, duration_minutes, category, is_active`

func (s *PGServiceStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serviceSelectCols+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

func (s *PGServiceStore) ListActive(ctx context.Context) ([]model.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceSelectCols+` FROM services WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var v model.Service
		var desc, category sql.NullString
		if err := rows.Scan(&v.ID, &v.Name, &desc, &v.PriceCents, &v.DurationMinutes, &category, &v.IsActive); err != nil {
			return nil, err
		}
		v.Description = desc.String
		v.Category = category.String
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PGServiceStore) FindByName(ctx context.Context, name string) (*model.Service, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serviceSelectCols+` FROM services
		 WHERE is_active AND name ILIKE '%' || $1 || '%'
		 ORDER BY length(name) LIMIT 1`, name)
	return scanService(row)
}

func scanService(row *sql.Row) (*model.Service, error) {
	var v model.Service
	var desc, category sql.NullString
	err := row.Scan(&v.ID, &v.Name, &desc, &v.PriceCents, &v.DurationMinutes, &category, &v.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Description = desc.String
	v.Category = category.String
	return &v, nil
}
