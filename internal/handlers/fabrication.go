package handlers

import (
	"context"
	"fmt"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/store"
)

// CADHandler produces a CAD model description for a fabrication goal.
// Spec.md's consumed capability set has no CAD-generation interface, so
// this drafts a model specification via Synthesizer; a real deployment
// swaps this handler for one backed by an actual CAD service.
type CADHandler struct {
	synth capability.Synthesizer
}

func (h *CADHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.synth == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "no synthesizer capability configured")
	}
	meta := taskMetadata(task)

	spec, err := h.synth.Synthesize(ctx, fmt.Sprintf("Produce a CAD model specification for goal %s", meta["goal_id"]))
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("synthesize cad spec: %w", err)
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]string{"cad_spec": spec}),
	}, nil
}

// ReviewSafetyHandler checks the cad stage's output for the spec's
// blocking keywords before a print job can be queued. It never approves
// silently — it can only mark the design clear for queue_print or flag
// it, never clear the queue_print stage's own human-approval gate.
type ReviewSafetyHandler struct {
	store *store.Store
}

var unsafeKeywords = []string{"pressure vessel", "load-bearing", "electrical enclosure"}

func (h *ReviewSafetyHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	var cad struct {
		CADSpec string `json:"cad_spec"`
	}
	if err := siblingResult(ctx, h.store, task, "cad", &cad); err != nil {
		return execution.HandlerResult{}, err
	}

	var flagged []string
	for _, kw := range unsafeKeywords {
		if containsFold(cad.CADSpec, kw) {
			flagged = append(flagged, kw)
		}
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]any{"flagged_terms": flagged, "clear": len(flagged) == 0}),
	}, nil
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	lower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r = r - 'A' + 'a'
			}
			out[i] = r
		}
		return out
	}
	h, n = lower(h), lower(n)
	if len(n) == 0 || len(n) > len(h) {
		return len(n) == 0
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// QueuePrintHandler enqueues the print job. The executor never reaches
// this handler for a task still flagged requires_human_approval — it
// requeues those without dispatching — so by the time Handle runs here
// the gate has already been cleared via the HTTP surface.
type QueuePrintHandler struct {
	store *store.Store
}

func (h *QueuePrintHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	var review struct {
		Clear bool `json:"clear"`
	}
	if err := siblingResult(ctx, h.store, task, "review_safety", &review); err != nil {
		return execution.HandlerResult{}, err
	}
	if !review.Clear {
		return execution.HandlerResult{}, apperr.New(apperr.Denied, "safety review flagged terms on this design")
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]string{"queue_status": "queued"}),
	}, nil
}
