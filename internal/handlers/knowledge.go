package handlers

import (
	"context"
	"fmt"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/store"
)

// KBWriteHandler writes a research goal's synthesis to the knowledge
// base under the category/slug the project generator derived from the
// goal's metadata. The body comes from the project's synthesize stage.
type KBWriteHandler struct {
	store *store.Store
	kb    capability.KnowledgeStore
}

func (h *KBWriteHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.kb == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "no knowledge store configured")
	}
	meta := taskMetadata(task)
	category, slug := meta["category"], meta["slug"]
	if category == "" || slug == "" {
		return execution.HandlerResult{}, apperr.New(apperr.InvalidInput, "kb_write task %s missing category/slug metadata", task.ID)
	}

	var synth struct {
		Synthesis string `json:"synthesis"`
	}
	if err := siblingResult(ctx, h.store, task, "synthesize", &synth); err != nil {
		return execution.HandlerResult{}, err
	}

	frontmatter := fmt.Sprintf("category: %s\nslug: %s", category, slug)
	path, err := h.kb.Write(ctx, category, slug, frontmatter, synth.Synthesis)
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("kb write: %w", err)
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]string{"path": path}),
	}, nil
}

// CommitHandler commits the knowledge-base file the project's kb_write
// stage wrote.
type CommitHandler struct {
	store *store.Store
	vcs   capability.VCS
}

func (h *CommitHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.vcs == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "no VCS capability configured")
	}

	var written struct {
		Path string `json:"path"`
	}
	if err := siblingResult(ctx, h.store, task, "kb_write", &written); err != nil {
		return execution.HandlerResult{}, err
	}
	if written.Path == "" {
		return execution.HandlerResult{}, apperr.New(apperr.InvalidState, "kb_write stage produced no path")
	}

	commitID, err := h.vcs.Commit(ctx, []string{written.Path}, fmt.Sprintf("knowledge base: %s", written.Path))
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("commit: %w", err)
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]string{"commit_id": commitID}),
	}, nil
}

// UpdateGuideHandler rewrites an existing guide's body with a
// synthesized fix for the failure pattern the owning goal targets.
type UpdateGuideHandler struct {
	kb    capability.KnowledgeStore
	synth capability.Synthesizer
}

func (h *UpdateGuideHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.kb == nil || h.synth == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "update_guide requires knowledge store and synthesizer")
	}
	meta := taskMetadata(task)
	reason := meta["failure_reason"]

	revision, err := h.synth.Synthesize(ctx, fmt.Sprintf("Revise the affected guide to address this failure: %s", reason))
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("synthesize revision: %w", err)
	}

	category, slug := "guides", slugForFailure(reason)
	path, err := h.kb.Write(ctx, category, slug, "category: guides", revision)
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("kb write: %w", err)
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]string{"path": path}),
	}, nil
}

// DocumentHandler writes the optimization template's recommended
// routing change to the knowledge base.
type DocumentHandler struct {
	kb    capability.KnowledgeStore
	synth capability.Synthesizer
}

func (h *DocumentHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.kb == nil || h.synth == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "document requires knowledge store and synthesizer")
	}
	meta := taskMetadata(task)

	doc, err := h.synth.Synthesize(ctx, fmt.Sprintf("Document the recommended routing change: %s", meta["query"]))
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("synthesize document: %w", err)
	}

	path, err := h.kb.Write(ctx, "optimizations", slugForFailure(task.ID), "category: optimizations", doc)
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("kb write: %w", err)
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]string{"path": path}),
	}, nil
}

func slugForFailure(s string) string {
	if s == "" {
		return "untitled"
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
		case r == ' ', r == '-', r == '_':
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return "untitled"
	}
	return string(out)
}
