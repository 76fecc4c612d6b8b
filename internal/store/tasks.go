package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/apperr"
)

// InsertTask records a new task and its dependency edges atomically, so
// a project's task graph either appears whole or not at all.
func (s *Store) InsertTask(ctx context.Context, t Task, dependsOn []string) (Task, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = nowUTC()
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, kind, title, priority, status,
				budget_allocated_usd, result, error, metadata, attempts, max_attempts, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, '{}', '{}', ?, 0, ?, ?)`,
			t.ID, t.ProjectID, t.Kind, t.Title, string(t.Priority), string(t.Status),
			t.BudgetAllocatedUSD.String(), t.Metadata, t.MaxAttempts, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		for _, dep := range dependsOn {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)`,
				t.ID, dep); err != nil {
				return fmt.Errorf("insert task dependency: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.New(apperr.NotFound, "task %s not found", id)
	}
	if err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// ListTasksByProject returns every task belonging to a project, in
// creation order.
func (s *Store) ListTasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimReadyTasks atomically selects up to limit pending tasks whose
// dependencies have all succeeded and transitions them to claimed,
// returning the claimed rows. The surrounding transaction uses
// BEGIN IMMEDIATE (via the store's _txlock=immediate DSN) so the
// candidate scan and the claiming UPDATE are never interleaved with
// another caller's claim: a second concurrent ClaimReadyTasks simply
// blocks on SQLite's busy timeout until this transaction commits, then
// sees the already-claimed rows excluded by its own WHERE status =
// 'pending' clause. kinds, when non-empty, restricts the claim to task
// kinds the caller currently has free worker-pool capacity for.
func (s *Store) ClaimReadyTasks(ctx context.Context, limit int, kinds []string) ([]Task, error) {
	var claimed []Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		candidates, err := readyTaskCandidates(ctx, tx, limit*4, kinds, nowUTC())
		if err != nil {
			return err
		}

		for _, id := range candidates {
			if len(claimed) >= limit {
				break
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, started_at = ?, attempts = attempts + 1
				WHERE id = ? AND status = ?`,
				string(TaskClaimed), nowUTC(), id, string(TaskPending))
			if err != nil {
				return fmt.Errorf("claim task %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim rows affected: %w", err)
			}
			if n == 0 {
				continue
			}
			row := tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
			t, err := scanTask(row)
			if err != nil {
				return fmt.Errorf("reload claimed task %s: %w", id, err)
			}
			claimed = append(claimed, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// readyTaskCandidates finds pending tasks with no unsatisfied
// dependency: every row in task_dependencies for the task either
// doesn't exist, or points at a task whose status is succeeded. A task
// carrying a next_attempt_at in the future (set by RequeueTask's
// backoff delay) is excluded until that time has passed.
func readyTaskCandidates(ctx context.Context, tx *sql.Tx, limit int, kinds []string, now time.Time) ([]string, error) {
	query := `
		SELECT t.id FROM tasks t
		WHERE t.status = ?
		AND (t.next_attempt_at IS NULL OR t.next_attempt_at <= ?)
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies d
			JOIN tasks dep ON dep.id = d.depends_on_task_id
			WHERE d.task_id = t.id AND dep.status != ?
		)`
	args := []any{string(TaskPending), now, string(TaskSucceeded)}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		query += fmt.Sprintf(" AND t.kind IN (%s)", joinPlaceholders(placeholders))
	}
	query += " ORDER BY CASE t.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, t.created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ready task candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

// StartTask moves a claimed task to running once the executor has
// handed it to a handler.
func (s *Store) StartTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
		string(TaskRunning), id, string(TaskClaimed))
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.InvalidState, "task %s is not claimed", id))
}

// FinishTask records the terminal outcome of a task: status, result
// payload (on success) or error payload (on failure), and spend. The
// project's running budget_spent_usd and a budget_ledger row are
// updated in the same transaction, so a task's recorded cost and the
// ledger can never drift apart.
func (s *Store) FinishTask(ctx context.Context, taskID string, status TaskStatus, resultJSON, errorJSON string, spend decimal.Decimal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var projectID string
		if err := tx.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, taskID).Scan(&projectID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.NotFound, "task %s not found", taskID)
			}
			return fmt.Errorf("lookup task project: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, result = ?, error = ?, finished_at = ?
			WHERE id = ?`,
			string(status), resultJSON, errorJSON, nowUTC(), taskID)
		if err != nil {
			return fmt.Errorf("finish task: %w", err)
		}
		if err := requireRowAffected(res, apperr.New(apperr.NotFound, "task %s not found", taskID)); err != nil {
			return err
		}

		if spend.IsZero() {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO budget_ledger (ts, project_id, task_id, amount_usd, reason)
			VALUES (?, ?, ?, ?, ?)`,
			nowUTC(), projectID, taskID, spend.String(), "task:"+string(status)); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		return s.AddProjectSpend(ctx, tx, projectID, spend)
	})
}

// RequeueTask resets a failed task back to pending for a retry attempt,
// recording nextAttemptAt so readyTaskCandidates excludes it from
// claiming until the backoff delay has elapsed. Its attempts counter
// (already incremented at claim time) is left in place so the
// executor's backoff policy sees accurate history.
func (s *Store) RequeueTask(ctx context.Context, id string, nextAttemptAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = NULL, next_attempt_at = ? WHERE id = ?`,
		string(TaskPending), nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.NotFound, "task %s not found", id))
}

// RequeueTaskHold resets a task blocked on a human approval gate back to
// pending, immediately reclaimable, and undoes the attempts increment
// ClaimReadyTasks applied when it discovered the hold — an approval
// gate is not a retryable failure, so it must never count against the
// task kind's max_attempts budget.
func (s *Store) RequeueTaskHold(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = NULL, next_attempt_at = NULL,
			attempts = MAX(attempts - 1, 0)
		WHERE id = ?`,
		string(TaskPending), id)
	if err != nil {
		return fmt.Errorf("requeue task hold: %w", err)
	}
	return requireRowAffected(res, apperr.New(apperr.NotFound, "task %s not found", id))
}

// requiresApprovalMetadataKey mirrors internal/execution's and
// internal/project's own constant of the same name; task metadata is an
// opaque JSON blob as far as the store is concerned, so the key is
// duplicated here rather than imported.
const requiresApprovalMetadataKey = "requires_human_approval"

// ClearTaskApproval drops the human-approval hold from a task's
// metadata, the write side of the HTTP approval-clearing endpoint. A
// task with no hold set is left untouched and reported as not found,
// so callers can distinguish "already cleared" from "never held" at
// the API layer. The next claim attempt sees the flag gone and
// dispatches normally.
func (s *Store) ClearTaskApproval(ctx context.Context, id string) (Task, error) {
	var out Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.NotFound, "task %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("scan task: %w", err)
		}

		var meta map[string]string
		if err := json.Unmarshal([]byte(t.Metadata), &meta); err != nil {
			return fmt.Errorf("parse task metadata: %w", err)
		}
		if meta[requiresApprovalMetadataKey] != "true" {
			return apperr.New(apperr.InvalidState, "task %s is not awaiting approval", id)
		}
		delete(meta, requiresApprovalMetadataKey)

		encoded, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode task metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET metadata = ? WHERE id = ?`, string(encoded), id); err != nil {
			return fmt.Errorf("clear task approval: %w", err)
		}
		t.Metadata = string(encoded)
		out = t
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

// ProjectTaskCounts summarizes a project's tasks by status, used by the
// executor to decide whether a project has finished (all terminal) and
// whether it succeeded (no failed-beyond-retry tasks).
func (s *Store) ProjectTaskCounts(ctx context.Context, projectID string) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("project task counts: %w", err)
	}
	defer rows.Close()

	counts := map[TaskStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

const taskSelect = `
	SELECT id, project_id, kind, title, priority, status, budget_allocated_usd,
		result, error, metadata, attempts, max_attempts, next_attempt_at, created_at, started_at, finished_at
	FROM tasks`

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var priority, status, budget string
	var nextAttemptAt, startedAt, finishedAt sql.NullTime

	if err := row.Scan(&t.ID, &t.ProjectID, &t.Kind, &t.Title, &priority, &status, &budget,
		&t.Result, &t.Error, &t.Metadata, &t.Attempts, &t.MaxAttempts, &nextAttemptAt, &t.CreatedAt,
		&startedAt, &finishedAt); err != nil {
		return Task{}, err
	}
	t.Priority = TaskPriority(priority)
	t.Status = TaskStatus(status)

	dec, err := decimal.NewFromString(budget)
	if err != nil {
		return Task{}, fmt.Errorf("parse budget_allocated_usd: %w", err)
	}
	t.BudgetAllocatedUSD = dec

	if nextAttemptAt.Valid {
		t.NextAttemptAt = &nextAttemptAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return t, nil
}
