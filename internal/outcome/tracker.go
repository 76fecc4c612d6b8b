// Package outcome implements the OutcomeTracker: a baseline snapshot
// taken at goal approval, and a daily measurement pass that scores a
// completed goal's real-world effect once its measurement window has
// elapsed.
package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/store"
)

// Tracker is the OutcomeTracker (spec.md §4.12).
type Tracker struct {
	log       *slog.Logger
	clock     clock.Clock
	store     *store.Store
	cfg       config.OutcomeConfig
	telemetry capability.Telemetry
	knowledge capability.KnowledgeStore
}

func New(log *slog.Logger, c clock.Clock, st *store.Store, cfg config.OutcomeConfig, telemetry capability.Telemetry, kb capability.KnowledgeStore) *Tracker {
	return &Tracker{log: log, clock: c, store: st, cfg: cfg, telemetry: telemetry, knowledge: kb}
}

// CaptureBaselines snapshots every approved goal that hasn't had its
// baseline recorded yet. It's safe to call repeatedly — a goal with an
// existing goal_outcomes row is skipped.
func (t *Tracker) CaptureBaselines(ctx context.Context) (int, error) {
	goals, err := t.store.ListGoalsNeedingBaseline(ctx)
	if err != nil {
		return 0, fmt.Errorf("list goals needing baseline: %w", err)
	}

	captured := 0
	for _, g := range goals {
		metrics, err := t.baselineMetrics(ctx, g)
		if err != nil {
			t.log.Error("outcome_tracker: baseline capture failed", "goal_id", g.ID, "err", err)
			continue
		}
		now := t.clock.Now().UTC()
		if err := t.store.UpsertGoalOutcome(ctx, store.GoalOutcome{
			GoalID:            g.ID,
			BaselineDate:      now,
			MeasurementDate:   now,
			BaselineMetrics:   toJSON(metrics),
			MeasurementMethod: "baseline_only",
		}); err != nil {
			t.log.Error("outcome_tracker: baseline write failed", "goal_id", g.ID, "err", err)
			continue
		}
		captured++
	}
	return captured, nil
}

// MeasureDue runs the measurement phase for every goal whose project
// completed at least cfg.MeasurementWindowDays ago and that hasn't been
// measured yet.
func (t *Tracker) MeasureDue(ctx context.Context) (int, error) {
	goals, err := t.store.ListGoalsDueForMeasurement(ctx, t.clock.Now(), t.cfg.MeasurementWindowDays)
	if err != nil {
		return 0, fmt.Errorf("list goals due for measurement: %w", err)
	}

	measured := 0
	for _, g := range goals {
		if err := t.measure(ctx, g); err != nil {
			t.log.Error("outcome_tracker: measurement failed", "goal_id", g.ID, "err", err)
			continue
		}
		measured++
	}
	return measured, nil
}

func (t *Tracker) measure(ctx context.Context, g store.Goal) error {
	baseline, err := t.store.GetGoalOutcome(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("get baseline: %w", err)
	}
	var baselineMetrics map[string]float64
	_ = json.Unmarshal([]byte(baseline.BaselineMetrics), &baselineMetrics)

	current, err := t.currentMetrics(ctx, g)
	if err != nil {
		return fmt.Errorf("current metrics: %w", err)
	}

	impact := impactScore(g.Kind, baselineMetrics, current)
	roi := roiScore(current)
	adoption := adoptionScore(current, t.cfg.AdoptionCeiling)
	quality := qualityScore(g.Kind, current, t.cfg.DefaultQuality)
	effectiveness := CombineScores(impact, roi, adoption, quality)

	now := t.clock.Now().UTC()
	if err := t.store.UpsertGoalOutcome(ctx, store.GoalOutcome{
		GoalID:             g.ID,
		BaselineDate:       baseline.BaselineDate,
		MeasurementDate:    now,
		BaselineMetrics:    baseline.BaselineMetrics,
		OutcomeMetrics:     toJSON(current),
		ImpactScore:        impact,
		ROIScore:           roi,
		AdoptionScore:      adoption,
		QualityScore:       quality,
		EffectivenessScore: effectiveness,
		MeasurementMethod:  "windowed",
	}); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return t.store.RecordGoalEffectiveness(ctx, g.ID, effectiveness)
}

// baselineMetrics snapshots the kind-specific metric a later
// measurement will compare against.
func (t *Tracker) baselineMetrics(ctx context.Context, g store.Goal) (map[string]float64, error) {
	switch g.Kind {
	case "improvement":
		count, err := t.failureCount(ctx, g)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"failures": count}, nil
	case "optimization":
		spend, err := t.tierSpend(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"tier_spend_usd": spend}, nil
	default:
		return map[string]float64{}, nil
	}
}

func (t *Tracker) currentMetrics(ctx context.Context, g store.Goal) (map[string]float64, error) {
	switch g.Kind {
	case "improvement":
		count, err := t.failureCount(ctx, g)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"failures": count}, nil
	case "optimization":
		spend, err := t.tierSpend(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"tier_spend_usd": spend}, nil
	case "research":
		views, refs := t.knowledgeUsage(ctx, g)
		return map[string]float64{"views": views, "refs": refs}, nil
	default:
		return map[string]float64{}, nil
	}
}

func (t *Tracker) failureCount(ctx context.Context, g store.Goal) (float64, error) {
	if t.telemetry == nil {
		return 0, nil
	}
	events, err := t.telemetry.OperationalHistory(ctx, "failure", t.clock.Now().Add(-30*24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("operational history: %w", err)
	}
	return float64(len(events)), nil
}

func (t *Tracker) tierSpend(ctx context.Context) (float64, error) {
	if t.telemetry == nil {
		return 0, nil
	}
	events, err := t.telemetry.OperationalHistory(ctx, "routing", t.clock.Now().Add(-30*24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("operational history: %w", err)
	}
	total := 0.0
	for _, e := range events {
		total += e.CostUSD
	}
	return total, nil
}

func (t *Tracker) knowledgeUsage(ctx context.Context, g store.Goal) (views, refs float64) {
	if t.knowledge == nil {
		return 0, 0
	}
	var meta map[string]string
	_ = json.Unmarshal([]byte(g.Metadata), &meta)
	path := meta["kb_path"]
	if path == "" {
		return 0, 0
	}
	stats, err := t.knowledge.UsageStats(ctx, path, time.Time{})
	if err != nil {
		return 0, 0
	}
	return float64(stats.Views), float64(stats.Refs)
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
