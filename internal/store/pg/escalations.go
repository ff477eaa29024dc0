package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

// PGEscalationStore implements store.EscalationStore backed by Postgres.
type PGEscalationStore struct {
	db *sql.DB
}

func NewPGEscalationStore(db *sql.DB) *PGEscalationStore {
	return &PGEscalationStore{db: db}
}

func (s *PGEscalationStore) Create(ctx context.Context, e *model.Escalation) error {
	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = "open"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escalations (id, conversation_id, patient_id, reason, priority, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ConversationID, nilUUID(e.PatientID), e.Reason, e.Priority, e.Status, e.CreatedAt,
	)
	return err
}
