package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forgecore/autonomy/internal/apperr"
)

// UpsertGoalOutcome writes the baseline or final measurement for a
// goal's outcome. Called twice per goal: once after approval to record
// the baseline, once after the measurement window elapses to record the
// outcome and scores.
func (s *Store) UpsertGoalOutcome(ctx context.Context, o GoalOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goal_outcomes (goal_id, baseline_date, measurement_date, baseline_metrics,
			outcome_metrics, impact_score, roi_score, adoption_score, quality_score,
			effectiveness_score, measurement_method, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (goal_id) DO UPDATE SET
			measurement_date = excluded.measurement_date,
			outcome_metrics = excluded.outcome_metrics,
			impact_score = excluded.impact_score,
			roi_score = excluded.roi_score,
			adoption_score = excluded.adoption_score,
			quality_score = excluded.quality_score,
			effectiveness_score = excluded.effectiveness_score,
			measurement_method = excluded.measurement_method,
			notes = excluded.notes`,
		o.GoalID, o.BaselineDate, o.MeasurementDate, o.BaselineMetrics, o.OutcomeMetrics,
		o.ImpactScore, o.ROIScore, o.AdoptionScore, o.QualityScore, o.EffectivenessScore,
		o.MeasurementMethod, o.Notes)
	if err != nil {
		return fmt.Errorf("upsert goal outcome: %w", err)
	}
	return nil
}

// GetGoalOutcome fetches the recorded outcome for a goal.
func (s *Store) GetGoalOutcome(ctx context.Context, goalID string) (GoalOutcome, error) {
	var o GoalOutcome
	err := s.db.QueryRowContext(ctx, `
		SELECT goal_id, baseline_date, measurement_date, baseline_metrics, outcome_metrics,
			impact_score, roi_score, adoption_score, quality_score, effectiveness_score,
			measurement_method, notes
		FROM goal_outcomes WHERE goal_id = ?`, goalID).Scan(
		&o.GoalID, &o.BaselineDate, &o.MeasurementDate, &o.BaselineMetrics, &o.OutcomeMetrics,
		&o.ImpactScore, &o.ROIScore, &o.AdoptionScore, &o.QualityScore, &o.EffectivenessScore,
		&o.MeasurementMethod, &o.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return GoalOutcome{}, apperr.New(apperr.NotFound, "no outcome recorded for goal %s", goalID)
	}
	if err != nil {
		return GoalOutcome{}, fmt.Errorf("get goal outcome: %w", err)
	}
	return o, nil
}

// ListGoalsDueForMeasurement returns completed goals whose project
// finished at least windowDays ago and that have no final measurement
// recorded yet (goals.outcome_measured_at IS NULL — a baseline row in
// goal_outcomes may already exist from approval time, so that table
// alone can't signal idempotence). A goal drops out of this list the
// moment RecordGoalEffectiveness runs for it.
func (s *Store) ListGoalsDueForMeasurement(ctx context.Context, now time.Time, windowDays int) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.kind, g.description, g.rationale, g.estimated_budget_usd, g.estimated_duration_h,
			g.status, g.impact_score, g.source_tag, g.metadata, g.identified_at, g.approved_at,
			g.approved_by, g.approval_notes, g.effectiveness_score, g.outcome_measured_at, g.learn_from
		FROM goals g
		JOIN projects p ON p.goal_id = g.id
		WHERE g.status = ? AND p.status = ? AND g.outcome_measured_at IS NULL
		AND p.completed_at <= datetime(?, '-' || ? || ' days')`,
		string(GoalCompleted), string(ProjectCompleted), now.UTC(), windowDays)
	if err != nil {
		return nil, fmt.Errorf("list goals due for measurement: %w", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGoalsNeedingBaseline returns approved goals with no goal_outcomes
// row yet, so the outcome tracker captures exactly one baseline
// snapshot per goal, taken as soon as possible after approval.
func (s *Store) ListGoalsNeedingBaseline(ctx context.Context) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.kind, g.description, g.rationale, g.estimated_budget_usd, g.estimated_duration_h,
			g.status, g.impact_score, g.source_tag, g.metadata, g.identified_at, g.approved_at,
			g.approved_by, g.approval_notes, g.effectiveness_score, g.outcome_measured_at, g.learn_from
		FROM goals g
		LEFT JOIN goal_outcomes o ON o.goal_id = g.id
		WHERE g.approved_at IS NOT NULL AND o.goal_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list goals needing baseline: %w", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListOutcomesForStrategy returns every recorded outcome whose goal
// still has learn_from set, feeding the feedback loop's per-strategy
// rolling mean.
func (s *Store) ListOutcomesForStrategy(ctx context.Context, kind string, limit int) ([]GoalOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.goal_id, o.baseline_date, o.measurement_date, o.baseline_metrics, o.outcome_metrics,
			o.impact_score, o.roi_score, o.adoption_score, o.quality_score, o.effectiveness_score,
			o.measurement_method, o.notes
		FROM goal_outcomes o
		JOIN goals g ON g.id = o.goal_id
		WHERE g.kind = ? AND g.learn_from = 1
		ORDER BY o.measurement_date DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes for strategy: %w", err)
	}
	defer rows.Close()

	var out []GoalOutcome
	for rows.Next() {
		var o GoalOutcome
		if err := rows.Scan(&o.GoalID, &o.BaselineDate, &o.MeasurementDate, &o.BaselineMetrics,
			&o.OutcomeMetrics, &o.ImpactScore, &o.ROIScore, &o.AdoptionScore, &o.QualityScore,
			&o.EffectivenessScore, &o.MeasurementMethod, &o.Notes); err != nil {
			return nil, fmt.Errorf("scan goal outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
