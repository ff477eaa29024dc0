package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by
// Postgres. The message log, state history, metrics and detected intents
// live in jsonb columns; the whole document is rewritten on Save, which
// matches the single-writer pipeline (one turn per conversation at a
// time behind the debounce).
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

const convSelectCols = `id, patient_phone, patient_name, patient_id, instance_name, state,
	prior_states, messages, is_ai_handling, metrics, intents, disengaged,
	sentiment_score, last_message_at, created_at`

func (s *PGConversationStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+convSelectCols+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *PGConversationStore) GetActiveByPhone(ctx context.Context, phone string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+convSelectCols+` FROM conversations
		 WHERE patient_phone = $1 AND state <> $2
		 ORDER BY last_message_at DESC LIMIT 1`, phone, model.StateClosed)
	return scanConversation(row)
}

func (s *PGConversationStore) Create(ctx context.Context, c *model.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = now
	}
	if c.State == "" {
		c.State = model.StateGreeting
	}

	priorJSON, messagesJSON, metricsJSON, intentsJSON, err := marshalConvDocs(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations
		 (id, patient_phone, patient_name, patient_id, instance_name, state,
		  prior_states, messages, is_ai_handling, metrics, intents, disengaged,
		  sentiment_score, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.PatientPhone, nilStr(c.PatientName), nilUUID(c.PatientID),
		nilStr(c.InstanceName), c.State, priorJSON, messagesJSON, c.IsAIHandling,
		metricsJSON, intentsJSON, c.Disengaged, c.SentimentScore,
		c.LastMessageAt, c.CreatedAt,
	)
	return err
}

func (s *PGConversationStore) Save(ctx context.Context, c *model.Conversation) error {
	priorJSON, messagesJSON, metricsJSON, intentsJSON, err := marshalConvDocs(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET
			patient_name = $1, patient_id = $2, state = $3, prior_states = $4,
			messages = $5, is_ai_handling = $6, metrics = $7, intents = $8,
			disengaged = $9, sentiment_score = $10, last_message_at = $11
		 WHERE id = $12`,
		nilStr(c.PatientName), nilUUID(c.PatientID), c.State, priorJSON,
		messagesJSON, c.IsAIHandling, metricsJSON, intentsJSON,
		c.Disengaged, c.SentimentScore, c.LastMessageAt, c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func marshalConvDocs(c *model.Conversation) (prior, messages, metrics, intents []byte, err error) {
	if prior, err = json.Marshal(orEmptyPrior(c.PriorStates)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal prior states: %w", err)
	}
	if messages, err = json.Marshal(orEmptyMessages(c.Messages)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal messages: %w", err)
	}
	if metrics, err = json.Marshal(c.Metrics); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metrics: %w", err)
	}
	if intents, err = json.Marshal(orEmptyStrings(c.Intents)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal intents: %w", err)
	}
	return prior, messages, metrics, intents, nil
}

func scanConversation(row *sql.Row) (*model.Conversation, error) {
	var c model.Conversation
	var patientName, instanceName sql.NullString
	var patientID *uuid.UUID
	var priorJSON, messagesJSON, metricsJSON, intentsJSON []byte
	err := row.Scan(&c.ID, &c.PatientPhone, &patientName, &patientID, &instanceName,
		&c.State, &priorJSON, &messagesJSON, &c.IsAIHandling, &metricsJSON,
		&intentsJSON, &c.Disengaged, &c.SentimentScore, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PatientName = patientName.String
	c.InstanceName = instanceName.String
	if patientID != nil {
		c.PatientID = *patientID
	}
	if err := json.Unmarshal(priorJSON, &c.PriorStates); err != nil {
		return nil, fmt.Errorf("unmarshal prior states: %w", err)
	}
	if err := json.Unmarshal(messagesJSON, &c.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if err := json.Unmarshal(metricsJSON, &c.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal(intentsJSON, &c.Intents); err != nil {
		return nil, fmt.Errorf("unmarshal intents: %w", err)
	}
	return &c, nil
}

func orEmptyPrior(v []model.PriorState) []model.PriorState {
	if v == nil {
		return []model.PriorState{}
	}
	return v
}

func orEmptyMessages(v []model.Message) []model.Message {
	if v == nil {
		return []model.Message{}
	}
	return v
}

func orEmptyStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
