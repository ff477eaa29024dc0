// Package knowledge answers clinic questions. The semantic searcher is
// a black box behind an interface; the Postgres exact/ILIKE lookup is
// the fallback when it is absent or empty-handed.
package knowledge

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/vitacare/concierge/internal/store"
)

// Chunk is one retrieved piece of knowledge with its relevance.
type Chunk struct {
	Text     string  `json:"text"`
	Source   string  `json:"source,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Category string  `json:"category,omitempty"`
}

// Searcher is the semantic retrieval backend (embedding store,
// external service, whatever). May be nil in deployments without one.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Chunk, error)
}

// Base layers the semantic searcher over the exact-match store.
type Base struct {
	semantic Searcher
	entries  store.KnowledgeStore
}

func NewBase(semantic Searcher, entries store.KnowledgeStore) *Base {
	return &Base{semantic: semantic, entries: entries}
}

// Search tries semantic retrieval first, then the store. An empty
// result is not an error; the agent simply answers without grounding.
func (b *Base) Search(ctx context.Context, query string, limit int) ([]Chunk, error) {
	if b.semantic != nil {
		chunks, err := b.semantic.Search(ctx, query, limit)
		if err == nil && len(chunks) > 0 {
			return chunks, nil
		}
	}

	if key := NormalizeKey(query); key != "" {
		entry, err := b.entries.FindExact(ctx, key)
		if err == nil {
			return []Chunk{{Text: entry.Answer, Source: entry.Key, Category: entry.Category}}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	entries, err := b.entries.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(entries))
	for _, e := range entries {
		chunks = append(chunks, Chunk{Text: e.Answer, Source: e.Key, Category: e.Category})
	}
	return chunks, nil
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeKey lowercases and strips the query down to a stable lookup
// key.
func NormalizeKey(q string) string {
	k := strings.ToLower(strings.TrimSpace(q))
	k = nonWord.ReplaceAllString(k, "_")
	return strings.Trim(k, "_")
}

// Format renders chunks for the system prompt.
func Format(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("- ")
		sb.WriteString(c.Text)
	}
	return sb.String()
}

var _ Searcher = (*Base)(nil)
