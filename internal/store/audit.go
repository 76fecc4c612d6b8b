package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AppendAuditEvent records an append-only audit trail entry: an
// approval, a rejection, an admission decision, a budget cutoff. This
// is distinct from operational_events, which feeds the feedback loop
// rather than the human-facing audit surface.
func (s *Store) AppendAuditEvent(ctx context.Context, e AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (ts, actor, event_kind, subject_id, payload)
		VALUES (?, ?, ?, ?, ?)`,
		nowUTC(), e.Actor, e.EventKind, e.SubjectID, e.Payload)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent audit events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, actor, event_kind, subject_id, payload
		FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Ts, &e.Actor, &e.EventKind, &e.SubjectID, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendOperationalEvent records one operational event for the
// opportunity strategies to aggregate.
func (s *Store) AppendOperationalEvent(ctx context.Context, e OperationalEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operational_events (ts, kind, reason, tier, cost_usd, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nowUTC(), e.Kind, e.Reason, e.Tier, e.CostUSD.String(), e.Payload)
	if err != nil {
		return fmt.Errorf("append operational event: %w", err)
	}
	return nil
}

// OperationalEventsSince returns every event of a kind recorded since
// start, oldest first, for the opportunity detector's lookback-window
// strategies (failure-pattern and cost-optimisation analysis).
func (s *Store) OperationalEventsSince(ctx context.Context, kind string, since time.Time) ([]OperationalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, kind, reason, tier, cost_usd, payload
		FROM operational_events WHERE kind = ? AND ts >= ? ORDER BY id ASC`, kind, since)
	if err != nil {
		return nil, fmt.Errorf("operational events since: %w", err)
	}
	defer rows.Close()

	var out []OperationalEvent
	for rows.Next() {
		var e OperationalEvent
		var cost string
		if err := rows.Scan(&e.ID, &e.Ts, &e.Kind, &e.Reason, &e.Tier, &cost, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan operational event: %w", err)
		}
		dec, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("parse operational event cost: %w", err)
		}
		e.CostUSD = dec
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentOperationalEvents returns the last n events of a kind, oldest
// first.
func (s *Store) RecentOperationalEvents(ctx context.Context, kind string, n int) ([]OperationalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, kind, reason, tier, cost_usd, payload FROM (
			SELECT id, ts, kind, reason, tier, cost_usd, payload
			FROM operational_events WHERE kind = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, kind, n)
	if err != nil {
		return nil, fmt.Errorf("recent operational events: %w", err)
	}
	defer rows.Close()

	var out []OperationalEvent
	for rows.Next() {
		var e OperationalEvent
		var cost string
		if err := rows.Scan(&e.ID, &e.Ts, &e.Kind, &e.Reason, &e.Tier, &cost, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan operational event: %w", err)
		}
		dec, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("parse operational event cost: %w", err)
		}
		e.CostUSD = dec
		out = append(out, e)
	}
	return out, rows.Err()
}
