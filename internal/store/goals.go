package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/apperr"
)

// InsertGoal assigns a new ID and records a freshly identified goal.
func (s *Store) InsertGoal(ctx context.Context, g Goal) (Goal, error) {
	g.ID = uuid.NewString()
	g.IdentifiedAt = nowUTC()
	if g.Status == "" {
		g.Status = GoalIdentified
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, kind, description, rationale, estimated_budget_usd,
			estimated_duration_h, status, impact_score, source_tag, metadata,
			identified_at, learn_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Kind, g.Description, g.Rationale, g.EstimatedBudgetUSD.String(),
		g.EstimatedDurationH, string(g.Status), g.ImpactScore, g.SourceTag, g.Metadata,
		g.IdentifiedAt, boolToInt(g.LearnFrom))
	if err != nil {
		return Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

// GetGoal fetches a goal by ID.
func (s *Store) GetGoal(ctx context.Context, id string) (Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, description, rationale, estimated_budget_usd, estimated_duration_h,
			status, impact_score, source_tag, metadata, identified_at, approved_at,
			approved_by, approval_notes, effectiveness_score, outcome_measured_at, learn_from
		FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Goal{}, apperr.New(apperr.NotFound, "goal %s not found", id)
	}
	if err != nil {
		return Goal{}, fmt.Errorf("scan goal: %w", err)
	}
	return g, nil
}

// ListGoalsByStatus returns goals in a given status, oldest first.
func (s *Store) ListGoalsByStatus(ctx context.Context, status GoalStatus) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, description, rationale, estimated_budget_usd, estimated_duration_h,
			status, impact_score, source_tag, metadata, identified_at, approved_at,
			approved_by, approval_notes, effectiveness_score, outcome_measured_at, learn_from
		FROM goals WHERE status = ? ORDER BY identified_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
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

// ListNonTerminalGoalsBySourceTag returns identified/approved/active goals
// carrying a given source_tag, used by the opportunity detector to
// deduplicate a fresh candidate against what it (or a prior cycle)
// already raised.
func (s *Store) ListNonTerminalGoalsBySourceTag(ctx context.Context, sourceTag string) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, description, rationale, estimated_budget_usd, estimated_duration_h,
			status, impact_score, source_tag, metadata, identified_at, approved_at,
			approved_by, approval_notes, effectiveness_score, outcome_measured_at, learn_from
		FROM goals
		WHERE source_tag = ? AND status IN (?, ?, ?)
		ORDER BY identified_at ASC`,
		sourceTag, string(GoalIdentified), string(GoalApproved), string(GoalActive))
	if err != nil {
		return nil, fmt.Errorf("list non-terminal goals by source tag: %w", err)
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

// ApproveGoal transitions a goal from identified to approved, recording
// who approved it and any notes. Returns apperr.InvalidState if the goal
// is not currently identified.
func (s *Store) ApproveGoal(ctx context.Context, id, approvedBy, notes string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE goals SET status = ?, approved_at = ?, approved_by = ?, approval_notes = ?
			WHERE id = ? AND status = ?`,
			string(GoalApproved), nowUTC(), approvedBy, notes, id, string(GoalIdentified))
		if err != nil {
			return fmt.Errorf("approve goal: %w", err)
		}
		return requireRowAffected(res, apperr.New(apperr.InvalidState, "goal %s is not awaiting approval", id))
	})
}

// RejectGoal transitions a goal from identified to rejected.
func (s *Store) RejectGoal(ctx context.Context, id, rejectedBy, notes string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE goals SET status = ?, approved_at = ?, approved_by = ?, approval_notes = ?
			WHERE id = ? AND status = ?`,
			string(GoalRejected), nowUTC(), rejectedBy, notes, id, string(GoalIdentified))
		if err != nil {
			return fmt.Errorf("reject goal: %w", err)
		}
		return requireRowAffected(res, apperr.New(apperr.InvalidState, "goal %s is not awaiting approval", id))
	})
}

// SetGoalStatus forces a goal into a terminal status (active/completed/
// failed), used by the project lifecycle as its single project advances.
func (s *Store) SetGoalStatus(ctx context.Context, id string, status GoalStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE goals SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set goal status: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.NotFound, "goal %s not found", id))
}

// RecordGoalEffectiveness stores the final effectiveness score computed
// by the outcome tracker once measurement completes.
func (s *Store) RecordGoalEffectiveness(ctx context.Context, id string, score float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET effectiveness_score = ?, outcome_measured_at = ? WHERE id = ?`,
		score, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("record goal effectiveness: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.NotFound, "goal %s not found", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (Goal, error) {
	var g Goal
	var budget string
	var status string
	var learnFrom int
	var approvedAt, outcomeMeasuredAt sql.NullTime
	var approvedBy, approvalNotes sql.NullString
	var effectiveness sql.NullFloat64

	if err := row.Scan(&g.ID, &g.Kind, &g.Description, &g.Rationale, &budget, &g.EstimatedDurationH,
		&status, &g.ImpactScore, &g.SourceTag, &g.Metadata, &g.IdentifiedAt, &approvedAt,
		&approvedBy, &approvalNotes, &effectiveness, &outcomeMeasuredAt, &learnFrom); err != nil {
		return Goal{}, err
	}

	dec, err := decimal.NewFromString(budget)
	if err != nil {
		return Goal{}, fmt.Errorf("parse estimated_budget_usd: %w", err)
	}
	g.EstimatedBudgetUSD = dec
	g.Status = GoalStatus(status)
	g.LearnFrom = learnFrom != 0
	if approvedAt.Valid {
		g.ApprovedAt = &approvedAt.Time
	}
	if outcomeMeasuredAt.Valid {
		g.OutcomeMeasuredAt = &outcomeMeasuredAt.Time
	}
	g.ApprovedBy = approvedBy.String
	g.ApprovalNotes = approvalNotes.String
	if effectiveness.Valid {
		v := effectiveness.Float64
		g.EffectivenessScore = &v
	}
	return g, nil
}

func requireRowAffected(res sql.Result, notFoundErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
