// Package approval gates every identified goal behind a human decision
// (or, for research goals past a configured age, an explicit opt-in
// auto-approve policy) before a project is ever generated for it.
package approval

import (
	"context"
	"errors"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/audit"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/store"
)

// allGoalStatuses is used by List when no status filter is given.
var allGoalStatuses = []store.GoalStatus{
	store.GoalIdentified, store.GoalApproved, store.GoalRejected,
	store.GoalActive, store.GoalCompleted, store.GoalFailed,
}

// neverAutoApproved lists goal kinds the auto-approve policy must never
// touch, regardless of configuration.
var neverAutoApproved = map[string]bool{
	"fabrication": true,
	"procurement": true,
}

// Gate is the sole writer of goal approval/rejection transitions.
type Gate struct {
	store          *store.Store
	clock          clock.Clock
	audit          *audit.Log
	autoApproveAge map[string]float64 // goal kind -> hours; absent/0 = never
}

func New(st *store.Store, c clock.Clock, al *audit.Log, autoApproveAge map[string]float64) *Gate {
	return &Gate{store: st, clock: c, audit: al, autoApproveAge: autoApproveAge}
}

// List returns goals matching an optional status and kind filter
// (either may be empty to mean "any"), newest-identified-last, capped
// at limit.
func (g *Gate) List(ctx context.Context, status store.GoalStatus, kind string, limit int) ([]store.Goal, error) {
	statuses := allGoalStatuses
	if status != "" {
		statuses = []store.GoalStatus{status}
	}

	var out []store.Goal
	for _, s := range statuses {
		goals, err := g.store.ListGoalsByStatus(ctx, s)
		if err != nil {
			return nil, err
		}
		for _, goal := range goals {
			if kind != "" && goal.Kind != kind {
				continue
			}
			out = append(out, goal)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get fetches a single goal by ID.
func (g *Gate) Get(ctx context.Context, id string) (store.Goal, error) {
	return g.store.GetGoal(ctx, id)
}

// Approve transitions a goal to approved. Approving an already-approved
// goal is a no-op that returns the existing record rather than erroring,
// per spec.md's idempotence requirement; any other out-of-order
// transition still fails with apperr.InvalidState.
func (g *Gate) Approve(ctx context.Context, id, actor, notes string) (store.Goal, error) {
	err := g.store.ApproveGoal(ctx, id, actor, notes)
	if err != nil {
		if !isAlreadyApproved(ctx, g.store, id, err) {
			return store.Goal{}, err
		}
	}
	goal, getErr := g.store.GetGoal(ctx, id)
	if getErr != nil {
		return store.Goal{}, getErr
	}
	if err == nil && g.audit != nil {
		g.audit.Publish(audit.Record{
			Actor: actor, EventKind: "goal_approved", SubjectID: id,
			Payload: map[string]string{"notes": notes},
		})
	}
	return goal, nil
}

// Reject transitions a goal to rejected. Out-of-order transitions fail
// with apperr.InvalidState.
func (g *Gate) Reject(ctx context.Context, id, actor, notes string) (store.Goal, error) {
	if err := g.store.RejectGoal(ctx, id, actor, notes); err != nil {
		return store.Goal{}, err
	}
	goal, err := g.store.GetGoal(ctx, id)
	if err != nil {
		return store.Goal{}, err
	}
	if g.audit != nil {
		g.audit.Publish(audit.Record{
			Actor: actor, EventKind: "goal_rejected", SubjectID: id,
			Payload: map[string]string{"notes": notes},
		})
	}
	return goal, nil
}

// ApproveTask clears a task's human-approval hold, letting the next
// execution cycle claim and dispatch it like any other pending task. It
// fails with apperr.InvalidState if the task isn't currently held.
func (g *Gate) ApproveTask(ctx context.Context, id, actor, notes string) (store.Task, error) {
	task, err := g.store.ClearTaskApproval(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	if g.audit != nil {
		g.audit.Publish(audit.Record{
			Actor: actor, EventKind: "task_approved", SubjectID: id,
			Payload: map[string]string{"notes": notes},
		})
	}
	return task, nil
}

// AutoApprove approves every identified research goal older than its
// configured auto_approve_age_h, acting as "system". It is meant to be
// invoked from the scheduled opportunity_cycle job, never from Approve
// itself, so the only writers of the approval transition remain
// Approve/Reject. Off by default (an absent or zero age means never),
// and never applies to fabrication or procurement regardless of
// configuration.
func (g *Gate) AutoApprove(ctx context.Context) ([]store.Goal, error) {
	identified, err := g.store.ListGoalsByStatus(ctx, store.GoalIdentified)
	if err != nil {
		return nil, err
	}

	var approved []store.Goal
	now := g.clock.Now()
	for _, goal := range identified {
		if neverAutoApproved[goal.Kind] {
			continue
		}
		if goal.Kind != "research" {
			continue
		}
		ageH, ok := g.autoApproveAge[goal.Kind]
		if !ok || ageH <= 0 {
			continue
		}
		if now.Sub(goal.IdentifiedAt).Hours() < ageH {
			continue
		}

		result, err := g.Approve(ctx, goal.ID, "system", "auto-approved: research goal past configured age")
		if err != nil {
			return approved, err
		}
		approved = append(approved, result)
	}
	return approved, nil
}

func isAlreadyApproved(ctx context.Context, st *store.Store, id string, err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.InvalidState {
		return false
	}
	goal, getErr := st.GetGoal(ctx, id)
	if getErr != nil {
		return false
	}
	return goal.Status == store.GoalApproved
}
