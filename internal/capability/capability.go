// Package capability adapts the autonomous core's external-service
// contracts (search, synthesis, the knowledge store, version control,
// host metrics, and operational telemetry) to concrete implementations.
// Handlers depend only on the interfaces in this file; every concrete
// adapter lives in its own file so a deployment can swap one out
// without touching handler code.
package capability

import (
	"context"
	"time"
)

// SearchResult is one hit returned by Search.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Search looks up source material for a research or improvement task.
type Search interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// Synthesizer turns a prompt (typically built from Search results) into
// prose, used by the synthesize and document task kinds.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// UsageStats reports how often a written knowledge-base entry has been
// viewed or referenced since a point in time.
type UsageStats struct {
	Views int
	Refs  int
}

// KnowledgeStore is the durable home for written research: markdown
// articles under a category/slug, plus lightweight usage tracking that
// feeds the knowledge-gap opportunity strategy.
type KnowledgeStore interface {
	Write(ctx context.Context, category, slug, frontmatter, body string) (path string, err error)
	Exists(ctx context.Context, category, slug string) (bool, error)
	UsageStats(ctx context.Context, path string, since time.Time) (UsageStats, error)
}

// VCS commits generated or updated files, used by the commit task kind.
type VCS interface {
	Commit(ctx context.Context, paths []string, message string) (commitID string, err error)
}

// Telemetry replays recorded operational history, used by the
// opportunity detector's failure-pattern and cost-optimisation
// strategies. internal/store.Store does not implement it directly;
// StoreTelemetry (telemetry.go) adapts Store.OperationalEventsSince,
// converting each event's decimal cost to float64.
type OperationalEvent struct {
	Kind    string
	Reason  string
	Tier    string
	CostUSD float64
}

type Telemetry interface {
	OperationalHistory(ctx context.Context, kind string, since time.Time) ([]OperationalEvent, error)
}
