// Package bootstrap seeds a fresh database with the clinic catalog and
// the FAQ entries the agent answers from. Seeding is idempotent: rows
// that already exist are left alone, so it is safe to run on every
// deploy.
package bootstrap

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vitacare/concierge/internal/store"
)

//go:embed seed/*.json
var seedFS embed.FS

type seedDoctor struct {
	Name       string `json:"name"`
	Specialty  string `json:"specialty"`
	CRM        string `json:"crm"`
	ExternalID int    `json:"external_id"`
}

type seedService struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	PriceCents      int    `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
	Category        string `json:"category"`
}

type seedKnowledge struct {
	Key      string `json:"key"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

// Seed loads the embedded catalog into the database.
func Seed(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var doctors []seedDoctor
	if err := load("seed/doctors.json", &doctors); err != nil {
		return err
	}
	var services []seedService
	if err := load("seed/services.json", &services); err != nil {
		return err
	}
	var entries []seedKnowledge
	if err := load("seed/knowledge.json", &entries); err != nil {
		return err
	}

	var inserted int64
	for _, d := range doctors {
		res, err := db.ExecContext(ctx,
			`INSERT INTO doctors (id, name, specialty, crm, external_id, is_active)
			 VALUES ($1, $2, $3, $4, $5, TRUE)
			 ON CONFLICT (crm) DO NOTHING`,
			store.GenNewID(), d.Name, d.Specialty, d.CRM, d.ExternalID)
		if err != nil {
			return fmt.Errorf("seed doctor %q: %w", d.Name, err)
		}
		inserted += affected(res)
	}
	for _, s := range services {
		res, err := db.ExecContext(ctx,
			`INSERT INTO services (id, name, description, price_cents, duration_minutes, category, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			 ON CONFLICT (name) DO NOTHING`,
			store.GenNewID(), s.Name, s.Description, s.PriceCents, s.DurationMinutes, s.Category)
		if err != nil {
			return fmt.Errorf("seed service %q: %w", s.Name, err)
		}
		inserted += affected(res)
	}
	for _, e := range entries {
		res, err := db.ExecContext(ctx,
			`INSERT INTO knowledge_entries (key, question, answer, category)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (key) DO NOTHING`,
			e.Key, e.Question, e.Answer, e.Category)
		if err != nil {
			return fmt.Errorf("seed knowledge %q: %w", e.Key, err)
		}
		inserted += affected(res)
	}

	logger.Info("seed complete",
		"doctors", len(doctors), "services", len(services),
		"knowledge", len(entries), "inserted", inserted)
	return nil
}

func load(name string, v interface{}) error {
	raw, err := seedFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}
