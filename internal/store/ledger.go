package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AppendLedgerEntry records a spend (or refund, if amount is negative)
// outside of a task's own lifecycle, e.g. a manual adjustment.
func (s *Store) AppendLedgerEntry(ctx context.Context, projectID, taskID *string, amount decimal.Decimal, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_ledger (ts, project_id, task_id, amount_usd, reason)
		VALUES (?, ?, ?, ?, ?)`,
		nowUTC(), projectID, taskID, amount.String(), reason)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// SpendSince sums ledger entries from start (inclusive) to now, used by
// the resource manager to compute today's cumulative spend against the
// daily budget ceiling.
func (s *Store) SpendSince(ctx context.Context, start time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT amount_usd FROM budget_ledger WHERE ts >= ?`, start)
	if err != nil {
		return decimal.Zero, fmt.Errorf("spend since: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amt string
		if err := rows.Scan(&amt); err != nil {
			return decimal.Zero, fmt.Errorf("scan ledger amount: %w", err)
		}
		dec, err := decimal.NewFromString(amt)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse ledger amount: %w", err)
		}
		total = total.Add(dec)
	}
	return total, rows.Err()
}

// ListLedgerEntries returns ledger rows from start to now, newest first,
// for the audit API.
func (s *Store) ListLedgerEntries(ctx context.Context, start time.Time, limit int) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, project_id, task_id, amount_usd, reason
		FROM budget_ledger WHERE ts >= ? ORDER BY ts DESC LIMIT ?`, start, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var amt string
		if err := rows.Scan(&e.ID, &e.Ts, &e.ProjectID, &e.TaskID, &amt, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		dec, err := decimal.NewFromString(amt)
		if err != nil {
			return nil, fmt.Errorf("parse ledger amount: %w", err)
		}
		e.AmountUSD = dec
		out = append(out, e)
	}
	return out, rows.Err()
}
