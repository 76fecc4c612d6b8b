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

// InsertProject records a generated project plan against its goal.
func (s *Store) InsertProject(ctx context.Context, p Project) (Project, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = nowUTC()
	if p.Status == "" {
		p.Status = ProjectProposed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, goal_id, title, description, status,
			budget_allocated_usd, budget_spent_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GoalID, p.Title, p.Description, string(p.Status),
		p.BudgetAllocatedUSD.String(), decimal.Zero.String(), p.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, projectSelect+` WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, apperr.New(apperr.NotFound, "project %s not found", id)
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

// GetProjectByGoal fetches the (at most one) project generated for a goal.
func (s *Store) GetProjectByGoal(ctx context.Context, goalID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, projectSelect+` WHERE goal_id = ?`, goalID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, apperr.New(apperr.NotFound, "no project for goal %s", goalID)
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

// ListActiveProjects returns every project currently in progress. The
// resource manager does not call it; its budget gate sums the ledger.
func (s *Store) ListActiveProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+` WHERE status = ?`, string(ProjectActive))
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkProjectActive transitions a proposed project to active. The
// executor does not call it when it dispatches a project's first task.
func (s *Store) MarkProjectActive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET status = ? WHERE id = ? AND status = ?`,
		string(ProjectActive), id, string(ProjectProposed))
	if err != nil {
		return fmt.Errorf("mark project active: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.InvalidState, "project %s is not proposed", id))
}

// CompleteProject marks a project completed or failed and records its
// actual duration.
func (s *Store) CompleteProject(ctx context.Context, id string, status ProjectStatus, durationH float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET status = ?, actual_duration_h = ?, completed_at = ?
		WHERE id = ?`,
		string(status), durationH, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("complete project: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.NotFound, "project %s not found", id))
}

// AddProjectSpend increments a project's running spend total. Used
// alongside AppendLedgerEntry so both the per-project rollup and the
// global ledger stay consistent inside the same caller transaction.
func (s *Store) AddProjectSpend(ctx context.Context, tx *sql.Tx, id string, amount decimal.Decimal) error {
	exec := s.execer(tx)
	row := s.queryRower(tx).QueryRowContext(ctx, `SELECT budget_spent_usd FROM projects WHERE id = ?`, id)
	var current string
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.NotFound, "project %s not found", id)
		}
		return fmt.Errorf("read project spend: %w", err)
	}
	currentDec, err := decimal.NewFromString(current)
	if err != nil {
		return fmt.Errorf("parse project spend: %w", err)
	}
	updated := currentDec.Add(amount)
	if _, err := exec.ExecContext(ctx, `UPDATE projects SET budget_spent_usd = ? WHERE id = ?`, updated.String(), id); err != nil {
		return fmt.Errorf("update project spend: %w", err)
	}
	return nil
}

const projectSelect = `
	SELECT id, goal_id, title, description, status, budget_allocated_usd,
		budget_spent_usd, actual_duration_h, created_at, completed_at
	FROM projects`

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var status string
	var allocated, spent string
	var actualDuration sql.NullFloat64
	var completedAt sql.NullTime

	if err := row.Scan(&p.ID, &p.GoalID, &p.Title, &p.Description, &status, &allocated,
		&spent, &actualDuration, &p.CreatedAt, &completedAt); err != nil {
		return Project{}, err
	}
	p.Status = ProjectStatus(status)

	allocatedDec, err := decimal.NewFromString(allocated)
	if err != nil {
		return Project{}, fmt.Errorf("parse budget_allocated_usd: %w", err)
	}
	p.BudgetAllocatedUSD = allocatedDec

	spentDec, err := decimal.NewFromString(spent)
	if err != nil {
		return Project{}, fmt.Errorf("parse budget_spent_usd: %w", err)
	}
	p.BudgetSpentUSD = spentDec

	if actualDuration.Valid {
		v := actualDuration.Float64
		p.ActualDurationH = &v
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return p, nil
}
