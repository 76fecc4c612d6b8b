package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/forgecore/autonomy/internal/apperr"
)

// UpsertKnowledgeEntry records that a knowledge-base article exists,
// inserting it on first sight and leaving view/ref counters untouched
// on subsequent calls (use RecordKnowledgeView / RecordKnowledgeRef for
// those).
func (s *Store) UpsertKnowledgeEntry(ctx context.Context, k KnowledgeEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (category, slug, path, views, refs, created_at)
		VALUES (?, ?, ?, 0, 0, ?)
		ON CONFLICT (category, slug) DO UPDATE SET path = excluded.path`,
		k.Category, k.Slug, k.Path, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert knowledge entry: %w", err)
	}
	return nil
}

// RecordKnowledgeView increments the view counter for a knowledge-base
// entry. No handler or capability in this module calls it.
func (s *Store) RecordKnowledgeView(ctx context.Context, category, slug string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_entries SET views = views + 1 WHERE category = ? AND slug = ?`,
		category, slug)
	if err != nil {
		return fmt.Errorf("record knowledge view: %w", err)
	}
	return nil
}

// RecordKnowledgeRef increments the reference counter. No handler or
// capability in this module calls it.
func (s *Store) RecordKnowledgeRef(ctx context.Context, category, slug string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_entries SET refs = refs + 1 WHERE category = ? AND slug = ?`,
		category, slug)
	if err != nil {
		return fmt.Errorf("record knowledge ref: %w", err)
	}
	return nil
}

// GetKnowledgeEntry looks up a single entry by category and slug. It
// returns apperr.NotFound if absent, which the knowledge-gap strategy
// treats as the entry never having been written.
func (s *Store) GetKnowledgeEntry(ctx context.Context, category, slug string) (KnowledgeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT category, slug, path, views, refs, created_at
		FROM knowledge_entries WHERE category = ? AND slug = ?`, category, slug)
	var k KnowledgeEntry
	err := row.Scan(&k.Category, &k.Slug, &k.Path, &k.Views, &k.Refs, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, apperr.New(apperr.NotFound, "knowledge entry %s/%s not found", category, slug)
	}
	if err != nil {
		return KnowledgeEntry{}, fmt.Errorf("get knowledge entry: %w", err)
	}
	return k, nil
}

// ListKnowledgeByCategory returns every known entry in a category,
// ordered by fewest views first, so the knowledge-gap strategy can find
// categories that are thin or stale relative to peers.
func (s *Store) ListKnowledgeByCategory(ctx context.Context, category string) ([]KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, slug, path, views, refs, created_at
		FROM knowledge_entries WHERE category = ? ORDER BY views ASC`, category)
	if err != nil {
		return nil, fmt.Errorf("list knowledge by category: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeEntry
	for rows.Next() {
		var k KnowledgeEntry
		if err := rows.Scan(&k.Category, &k.Slug, &k.Path, &k.Views, &k.Refs, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CountKnowledgeCategories returns the distinct categories known and
// their entry counts.
func (s *Store) CountKnowledgeCategories(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM knowledge_entries GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count knowledge categories: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[cat] = n
	}
	return counts, rows.Err()
}
