package opportunity

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/store"
)

// operationalEventKindRoutingSpend is the operational_events kind this
// strategy reads: one row per unit of work routed to an outbound tier
// (local/mcp/frontier), carrying CostUSD and Tier. The task executor
// does not write these rows.
const operationalEventKindRoutingSpend = "routing_spend"

const costOptimizationStrategicValue = 0.9

// CostOptimization aggregates routing spend by tier over the lookback
// window and flags a goal to shift work off the frontier tier once its
// share and absolute cost both cross their configured thresholds.
type CostOptimization struct {
	store *store.Store
	clock clock.Clock
	cfg   config.Opportunity
}

func NewCostOptimization(st *store.Store, c clock.Clock, cfg config.Opportunity) *CostOptimization {
	return &CostOptimization{store: st, clock: c, cfg: cfg}
}

func (s *CostOptimization) Name() string { return "cost_optimization" }

func (s *CostOptimization) Detect(ctx context.Context, window time.Duration) ([]Candidate, error) {
	since := s.clock.Now().Add(-window)
	events, err := s.store.OperationalEventsSince(ctx, operationalEventKindRoutingSpend, since)
	if err != nil {
		return nil, fmt.Errorf("cost optimization: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	total := decimal.Zero
	byTier := map[string]decimal.Decimal{}
	for _, e := range events {
		total = total.Add(e.CostUSD)
		byTier[e.Tier] = byTier[e.Tier].Add(e.CostUSD)
	}
	if total.IsZero() {
		return nil, nil
	}

	frontierCost := byTier["frontier"]
	frontierCostF, _ := frontierCost.Float64()
	totalF, _ := total.Float64()
	share := frontierCostF / totalF

	if share <= s.cfg.FrontierShareMin || frontierCostF <= s.cfg.FrontierCostMinUSD {
		return nil, nil
	}

	shareFactor := clamp01(share / s.cfg.FrontierShareCeiling)
	costFactor := clamp01(frontierCostF / s.cfg.FrontierCostCeiling)

	return []Candidate{{
		Kind:        "optimization",
		Description: fmt.Sprintf("Frontier-tier routing spend is %.1f%% of total ($%.2f)", share*100, frontierCostF),
		Rationale:   "frontier tier share and absolute cost both exceed configured thresholds",
		SourceTag:   "cost_optimization",
		Discriminator: "frontier_share",
		Metadata: map[string]string{
			"frontier_share":    fmt.Sprintf("%.3f", share),
			"frontier_cost_usd": fmt.Sprintf("%.2f", frontierCostF),
		},
		EstimatedBudgetUSD: decimal.NewFromFloat(8),
		EstimatedDurationH: 3,
		Factors: Factors{
			Frequency:      shareFactor,
			Severity:       costFactor,
			CostSavings:    costFactor,
			KnowledgeGap:   0,
			StrategicValue: costOptimizationStrategicValue,
		},
	}}, nil
}
