package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vitacare/concierge/internal/model"
	"github.com/vitacare/concierge/internal/store"
)

// PGKnowledgeStore implements store.KnowledgeStore backed by Postgres.
// This is the exact-match fallback behind the semantic searcher.
type PGKnowledgeStore struct {
	db *sql.DB
}

func NewPGKnowledgeStore(db *sql.DB) *PGKnowledgeStore {
	return &PGKnowledgeStore{db: db}
}

func (s *PGKnowledgeStore) FindExact(ctx context.Context, key string) (*model.KnowledgeEntry, error) {
	var e model.KnowledgeEntry
	var category sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT key, question, answer, category FROM knowledge_entries WHERE key = $1`, key,
	).Scan(&e.Key, &e.Question, &e.Answer, &category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Category = category.String
	return &e, nil
}

func (s *PGKnowledgeStore) Search(ctx context.Context, query string, limit int) ([]model.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, question, answer, category FROM knowledge_entries
		 WHERE question ILIKE '%' || $1 || '%' OR answer ILIKE '%' || $1 || '%'
		 LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.KnowledgeEntry
	for rows.Next() {
		var e model.KnowledgeEntry
		var category sql.NullString
		if err := rows.Scan(&e.Key, &e.Question, &e.Answer, &category); err != nil {
			return nil, err
		}
		e.Category = category.String
		out = append(out, e)
	}
	return out, rows.Err()
}
