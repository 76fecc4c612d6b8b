// Package handlers adapts each task kind spec.md §4.9's project
// templates produce to the capability interfaces that actually do the
// work, returning an execution.HandlerResult rather than touching the
// store directly.
package handlers

import (
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/store"
)

// Deps is the set of capabilities a handler may need. Not every handler
// uses every field, and Registry registers every handler whatever its
// dependencies, so a handler can be dispatched with a nil capability.
// Store gives a handler read access to
// a sibling stage's already-committed Result within the same project —
// the DAG carries dependency edges, not payloads, so a later stage
// fetches what it needs from the task it depends on.
type Deps struct {
	Store       *store.Store
	Search      capability.Search
	Synthesizer capability.Synthesizer
	Knowledge   capability.KnowledgeStore
	VCS         capability.VCS
	Telemetry   capability.Telemetry
}

// Registry builds the kind -> Handler map the executor dispatches
// through, covering every stage in internal/project's templates.
func Registry(d Deps) map[string]execution.Handler {
	reg := map[string]execution.Handler{
		"search":        &SearchHandler{search: d.Search},
		"synthesize":    &SynthesizeHandler{store: d.Store, synth: d.Synthesizer},
		"kb_write":      &KBWriteHandler{store: d.Store, kb: d.Knowledge},
		"commit":        &CommitHandler{store: d.Store, vcs: d.VCS},
		"research":      &SearchHandler{search: d.Search},
		"update_guide":  &UpdateGuideHandler{kb: d.Knowledge, synth: d.Synthesizer},
		"analyze":       &AnalyzeHandler{telemetry: d.Telemetry},
		"document":      &DocumentHandler{kb: d.Knowledge, synth: d.Synthesizer},
		"quote":         &QuoteHandler{synth: d.Synthesizer},
		"decide":        &DecideHandler{store: d.Store},
		"order":         &OrderHandler{store: d.Store},
		"cad":           &CADHandler{synth: d.Synthesizer},
		"review_safety": &ReviewSafetyHandler{store: d.Store},
		"queue_print":   &QueuePrintHandler{store: d.Store},
	}
	return reg
}
