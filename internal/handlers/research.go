package handlers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/store"
)

const defaultSearchTopK = 5

// SearchHandler resolves a research or improvement goal's task query
// into a set of source candidates. It also backs the improvement
// template's "research" stage, which searches for the failure pattern
// rather than general source material.
type SearchHandler struct {
	search capability.Search
}

func (h *SearchHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.search == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "no search capability configured")
	}
	meta := taskMetadata(task)
	query := meta["query"]
	if query == "" {
		return execution.HandlerResult{}, apperr.New(apperr.InvalidInput, "search task %s has no query in metadata", task.ID)
	}

	results, err := h.search.Search(ctx, query, defaultSearchTopK)
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("search: %w", err)
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]any{"query": query, "results": results}),
	}, nil
}

// SynthesizeHandler turns the prior search stage's candidates into a
// single written synthesis, recorded at zero cost. The
// query itself lives on the search stage's metadata, not this task's —
// stageMetadata only derives a "query" for search/research stages.
type SynthesizeHandler struct {
	store *store.Store
	synth capability.Synthesizer
}

func (h *SynthesizeHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.synth == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "no synthesizer capability configured")
	}

	var searched struct {
		Query   string                   `json:"query"`
		Results []map[string]interface{} `json:"results"`
	}
	if err := siblingResult(ctx, h.store, task, "search", &searched); err != nil {
		return execution.HandlerResult{}, err
	}
	prompt := fmt.Sprintf("Summarize findings relevant to: %s", searched.Query)

	text, err := h.synth.Synthesize(ctx, prompt)
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("synthesize: %w", err)
	}

	return execution.HandlerResult{
		Status:  store.TaskSucceeded,
		Result:  toJSON(map[string]string{"synthesis": text}),
		CostUSD: decimal.Zero,
	}, nil
}
