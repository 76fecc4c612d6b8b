// Package kbfile implements the KnowledgeStore capability as markdown
// files on disk, tracked alongside a store.Store row per category/slug
// so the opportunity detector's knowledge-gap strategy and the outcome
// tracker's adoption score can both query usage without touching the
// filesystem.
package kbfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/store"
)

// Store is the filesystem-backed KnowledgeStore. Despite the name
// collision with internal/store.Store, this is an unrelated type — the
// capability.KnowledgeStore adapter, not the relational store.
type Store struct {
	baseDir string
	store   *store.Store
}

func New(baseDir string, st *store.Store) *Store {
	return &Store{baseDir: baseDir, store: st}
}

var _ capability.KnowledgeStore = (*Store)(nil)

func (s *Store) path(category, slug string) string {
	return filepath.Join(s.baseDir, category, slug+".md")
}

// Write renders frontmatter + body to category/slug.md and registers
// the entry with the store so Exists and usage tracking see it
// immediately.
func (s *Store) Write(ctx context.Context, category, slug, frontmatter, body string) (string, error) {
	path := s.path(category, slug)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("make knowledge dir: %w", err)
	}

	content := fmt.Sprintf("---\n%s\n---\n\n%s\n", frontmatter, body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write knowledge file: %w", err)
	}

	if err := s.store.UpsertKnowledgeEntry(ctx, store.KnowledgeEntry{
		Category: category, Slug: slug, Path: path,
	}); err != nil {
		return "", fmt.Errorf("register knowledge entry: %w", err)
	}
	return path, nil
}

// Exists reports whether a category/slug entry has been written.
func (s *Store) Exists(ctx context.Context, category, slug string) (bool, error) {
	_, err := s.store.GetKnowledgeEntry(ctx, category, slug)
	if err == nil {
		return true, nil
	}
	if ae, ok := err.(*apperr.Error); ok && ae.Kind == apperr.NotFound {
		return false, nil
	}
	return false, err
}

// UsageStats reports the entry's lifetime view/ref counts. The "since"
// parameter is accepted for interface symmetry with Telemetry; the
// counters kept by knowledge_entries are cumulative rather than
// windowed, so it's unused here.
func (s *Store) UsageStats(ctx context.Context, path string, since time.Time) (capability.UsageStats, error) {
	category, slug := categorySlugFromPath(s.baseDir, path)
	entry, err := s.store.GetKnowledgeEntry(ctx, category, slug)
	if err != nil {
		return capability.UsageStats{}, err
	}
	return capability.UsageStats{Views: entry.Views, Refs: entry.Refs}, nil
}

func categorySlugFromPath(baseDir, path string) (category, slug string) {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return "", ""
	}
	rel = rel[:len(rel)-len(filepath.Ext(rel))]
	dir, file := filepath.Split(rel)
	return filepath.Clean(dir), file
}
