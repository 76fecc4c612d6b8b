package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestUpsertGoalOutcome_BaselineThenMeasurement(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g, err := s.InsertGoal(ctx, Goal{Kind: "process_improvement", EstimatedBudgetUSD: decimal.Zero, LearnFrom: true})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}

	baseline := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if err := s.UpsertGoalOutcome(ctx, GoalOutcome{
		GoalID:          g.ID,
		BaselineDate:    baseline,
		MeasurementDate: baseline,
		BaselineMetrics: `{"idle_minutes_per_day": 120}`,
	}); err != nil {
		t.Fatalf("UpsertGoalOutcome baseline: %v", err)
	}

	measured := baseline.Add(30 * 24 * time.Hour)
	if err := s.UpsertGoalOutcome(ctx, GoalOutcome{
		GoalID:             g.ID,
		BaselineDate:       baseline,
		MeasurementDate:    measured,
		OutcomeMetrics:     `{"idle_minutes_per_day": 40}`,
		EffectivenessScore: 82.5,
	}); err != nil {
		t.Fatalf("UpsertGoalOutcome measurement: %v", err)
	}

	got, err := s.GetGoalOutcome(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGoalOutcome: %v", err)
	}
	if got.EffectivenessScore != 82.5 {
		t.Errorf("expected effectiveness 82.5, got %f", got.EffectivenessScore)
	}
	if !got.BaselineDate.Equal(baseline) {
		t.Errorf("baseline date should survive the update: got %v want %v", got.BaselineDate, baseline)
	}
}

func TestListOutcomesForStrategy_ExcludesLearnFromFalse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	learn, err := s.InsertGoal(ctx, Goal{Kind: "cost_optimization", EstimatedBudgetUSD: decimal.Zero, LearnFrom: true})
	if err != nil {
		t.Fatalf("InsertGoal learn: %v", err)
	}
	noLearn, err := s.InsertGoal(ctx, Goal{Kind: "cost_optimization", EstimatedBudgetUSD: decimal.Zero, LearnFrom: false})
	if err != nil {
		t.Fatalf("InsertGoal noLearn: %v", err)
	}

	now := time.Now().UTC()
	for _, id := range []string{learn.ID, noLearn.ID} {
		if err := s.UpsertGoalOutcome(ctx, GoalOutcome{GoalID: id, BaselineDate: now, MeasurementDate: now, EffectivenessScore: 70}); err != nil {
			t.Fatalf("UpsertGoalOutcome: %v", err)
		}
	}

	out, err := s.ListOutcomesForStrategy(ctx, "cost_optimization", 10)
	if err != nil {
		t.Fatalf("ListOutcomesForStrategy: %v", err)
	}
	if len(out) != 1 || out[0].GoalID != learn.ID {
		t.Fatalf("expected only learn_from goal's outcome, got %+v", out)
	}
}
