package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/store"
)

const analyzeLookback = 14 * 24 * time.Hour

// AnalyzeHandler inspects recent routing spend via Telemetry and
// surfaces a recommended tier for the analyze stage of an optimization
// goal.
type AnalyzeHandler struct {
	telemetry capability.Telemetry
}

func (h *AnalyzeHandler) Handle(ctx context.Context, task store.Task) (execution.HandlerResult, error) {
	if h.telemetry == nil {
		return execution.HandlerResult{}, apperr.New(apperr.Internal, "no telemetry capability configured")
	}

	events, err := h.telemetry.OperationalHistory(ctx, "routing", time.Now().Add(-analyzeLookback))
	if err != nil {
		return execution.HandlerResult{}, fmt.Errorf("operational history: %w", err)
	}

	spendByTier := map[string]float64{}
	for _, e := range events {
		spendByTier[e.Tier] += e.CostUSD
	}
	cheapest, cheapestSpend := "", -1.0
	for tier, spend := range spendByTier {
		if cheapestSpend < 0 || spend < cheapestSpend {
			cheapest, cheapestSpend = tier, spend
		}
	}

	return execution.HandlerResult{
		Status: store.TaskSucceeded,
		Result: toJSON(map[string]any{
			"spend_by_tier":      spendByTier,
			"recommended_tier":   cheapest,
			"sample_event_count": len(events),
		}),
	}, nil
}
