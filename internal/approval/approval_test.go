package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/store"
)

func newTestGate(t *testing.T, autoApproveAge map[string]float64) (*Gate, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, clock.RealClock{}, nil, autoApproveAge), st
}

func seedGoal(t *testing.T, st *store.Store, kind string) store.Goal {
	t.Helper()
	g, err := st.InsertGoal(context.Background(), store.Goal{
		Kind:               kind,
		Description:        "test goal",
		EstimatedBudgetUSD: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	return g
}

func TestApprove_TransitionsToApproved(t *testing.T) {
	g, st := newTestGate(t, nil)
	goal := seedGoal(t, st, "research")

	approved, err := g.Approve(context.Background(), goal.ID, "alice", "looks good")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != store.GoalApproved {
		t.Errorf("expected status approved, got %s", approved.Status)
	}
	if approved.ApprovedBy != "alice" {
		t.Errorf("expected approved_by alice, got %s", approved.ApprovedBy)
	}
}

func TestApprove_AlreadyApproved_IsNoOp(t *testing.T) {
	g, st := newTestGate(t, nil)
	goal := seedGoal(t, st, "research")

	if _, err := g.Approve(context.Background(), goal.ID, "alice", ""); err != nil {
		t.Fatalf("first Approve: %v", err)
	}

	second, err := g.Approve(context.Background(), goal.ID, "bob", "re-approve attempt")
	if err != nil {
		t.Fatalf("expected idempotent no-op, got error: %v", err)
	}
	if second.Status != store.GoalApproved {
		t.Errorf("expected still approved, got %s", second.Status)
	}
	if second.ApprovedBy != "alice" {
		t.Errorf("expected original approver preserved, got %s", second.ApprovedBy)
	}
}

func TestApprove_RejectedGoal_Fails(t *testing.T) {
	g, st := newTestGate(t, nil)
	goal := seedGoal(t, st, "research")
	if _, err := g.Reject(context.Background(), goal.ID, "alice", "not now"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	_, err := g.Approve(context.Background(), goal.ID, "bob", "")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.InvalidState {
		t.Fatalf("expected InvalidState approving a rejected goal, got %v", err)
	}
}

func TestReject_TransitionsToRejected(t *testing.T) {
	g, st := newTestGate(t, nil)
	goal := seedGoal(t, st, "improvement")

	rejected, err := g.Reject(context.Background(), goal.ID, "alice", "out of scope")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != store.GoalRejected {
		t.Errorf("expected status rejected, got %s", rejected.Status)
	}
}

func TestList_FiltersByStatusAndKind(t *testing.T) {
	g, st := newTestGate(t, nil)
	a := seedGoal(t, st, "research")
	seedGoal(t, st, "improvement")
	if _, err := g.Approve(context.Background(), a.ID, "alice", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	identified, err := g.List(context.Background(), store.GoalIdentified, "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(identified) != 1 {
		t.Fatalf("expected 1 identified goal, got %d", len(identified))
	}

	research, err := g.List(context.Background(), "", "research", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(research) != 1 || research[0].Kind != "research" {
		t.Fatalf("expected 1 research goal, got %+v", research)
	}
}

// tinyAgeHours is small enough that a few milliseconds' sleep clears it,
// without requiring a fake clock plumbed through the store layer.
const tinyAgeHours = time.Millisecond.Hours()

func TestAutoApprove_ApprovesAgedResearchGoals(t *testing.T) {
	g, st := newTestGate(t, map[string]float64{"research": tinyAgeHours})
	seedGoal(t, st, "research")
	time.Sleep(50 * time.Millisecond)

	approved, err := g.AutoApprove(context.Background())
	if err != nil {
		t.Fatalf("AutoApprove: %v", err)
	}
	if len(approved) != 1 || approved[0].ApprovedBy != "system" {
		t.Fatalf("expected 1 goal auto-approved by system, got %+v", approved)
	}
}

func TestAutoApprove_NeverAppliesToFabricationOrProcurement(t *testing.T) {
	g, st := newTestGate(t, map[string]float64{"fabrication": tinyAgeHours, "procurement": tinyAgeHours, "research": tinyAgeHours})
	seedGoal(t, st, "fabrication")
	seedGoal(t, st, "procurement")
	time.Sleep(50 * time.Millisecond)

	approved, err := g.AutoApprove(context.Background())
	if err != nil {
		t.Fatalf("AutoApprove: %v", err)
	}
	if len(approved) != 0 {
		t.Fatalf("expected no fabrication/procurement auto-approvals, got %+v", approved)
	}
}

func TestAutoApprove_RespectsConfiguredAge(t *testing.T) {
	g, st := newTestGate(t, map[string]float64{"research": 72})
	seedGoal(t, st, "research") // identified_at = now, well under 72h

	approved, err := g.AutoApprove(context.Background())
	if err != nil {
		t.Fatalf("AutoApprove: %v", err)
	}
	if len(approved) != 0 {
		t.Fatalf("expected no auto-approvals before configured age elapses, got %+v", approved)
	}
}

func TestApproveTask_ClearsHoldAndRejectsWhenNotHeld(t *testing.T) {
	g, st := newTestGate(t, nil)
	p, err := st.InsertGoal(context.Background(), store.Goal{Kind: "fabrication", EstimatedBudgetUSD: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	proj, err := st.InsertProject(context.Background(), store.Project{GoalID: p.ID, Title: "t", BudgetAllocatedUSD: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	held, err := st.InsertTask(context.Background(), store.Task{
		ProjectID: proj.ID, Kind: "queue_print", MaxAttempts: 3,
		Metadata: `{"requires_human_approval":"true"}`,
	}, nil)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	cleared, err := g.ApproveTask(context.Background(), held.ID, "alice", "reviewed the print job")
	if err != nil {
		t.Fatalf("ApproveTask: %v", err)
	}
	if cleared.ID != held.ID {
		t.Errorf("expected cleared task %s, got %s", held.ID, cleared.ID)
	}

	if _, err := g.ApproveTask(context.Background(), held.ID, "alice", ""); err == nil {
		t.Fatal("expected error clearing an already-cleared hold")
	}
}

func TestAutoApprove_OffByDefault(t *testing.T) {
	g, st := newTestGate(t, nil)
	seedGoal(t, st, "research")
	time.Sleep(50 * time.Millisecond)

	approved, err := g.AutoApprove(context.Background())
	if err != nil {
		t.Fatalf("AutoApprove: %v", err)
	}
	if len(approved) != 0 {
		t.Fatalf("expected no auto-approval with nil policy map, got %+v", approved)
	}
}
