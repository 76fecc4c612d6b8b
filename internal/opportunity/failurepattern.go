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

// failureStrategicValue is the fixed strategic-value factor applied to
// every failure-pattern candidate: reducing a recurring failure always
// carries some generic roadmap value, independent of the specific
// reason, so unlike severity and cost-savings it isn't looked up
// per-reason.
const failureStrategicValue = 0.5

// operationalEventKindTaskFailure is the operational_events kind this
// strategy reads, one row per failure. The task executor does not write
// these rows.
const operationalEventKindTaskFailure = "task_failure"

// FailurePattern groups recent task failures by reason and emits an
// improvement goal for any reason recurring often enough to be worth
// fixing at the root.
type FailurePattern struct {
	store *store.Store
	clock clock.Clock
	cfg   config.Opportunity
}

func NewFailurePattern(st *store.Store, c clock.Clock, cfg config.Opportunity) *FailurePattern {
	return &FailurePattern{store: st, clock: c, cfg: cfg}
}

func (s *FailurePattern) Name() string { return "failure_pattern" }

func (s *FailurePattern) Detect(ctx context.Context, window time.Duration) ([]Candidate, error) {
	since := s.clock.Now().Add(-window)
	events, err := s.store.OperationalEventsSince(ctx, operationalEventKindTaskFailure, since)
	if err != nil {
		return nil, fmt.Errorf("failure pattern: %w", err)
	}

	counts := map[string]int{}
	for _, e := range events {
		counts[e.Reason]++
	}

	lookbackDays := window.Hours() / 24
	if lookbackDays <= 0 {
		lookbackDays = 1
	}

	var candidates []Candidate
	for reason, count := range counts {
		if count < s.cfg.MinPatternCount {
			continue
		}

		freq := clamp01((float64(count) / lookbackDays) / s.cfg.FrequencyCeiling)
		severity := s.cfg.SeverityTable[reason]
		if severity == 0 {
			severity = 0.5
		}
		costPerFailure := s.cfg.CostPerFailureUSD[reason]
		costSavingsUSD := float64(count) * costPerFailure
		costFactor := clamp01(costSavingsUSD / s.cfg.FailureCostCeilingUSD)

		candidates = append(candidates, Candidate{
			Kind:        "improvement",
			Description: fmt.Sprintf("Recurring task failure: %s (%d occurrences)", reason, count),
			Rationale:   fmt.Sprintf("%d failures with reason %q in the last %.0f days", count, reason, lookbackDays),
			SourceTag:   "failure_pattern",
			Discriminator: reason,
			Metadata: map[string]string{
				"reason": reason,
				"count":  fmt.Sprintf("%d", count),
			},
			EstimatedBudgetUSD: decimal.NewFromFloat(costSavingsUSD).Mul(decimal.NewFromFloat(0.5)),
			EstimatedDurationH: 4,
			Factors: Factors{
				Frequency:      freq,
				Severity:       severity,
				CostSavings:    costFactor,
				KnowledgeGap:   0,
				StrategicValue: failureStrategicValue,
			},
		})
	}
	return candidates, nil
}
