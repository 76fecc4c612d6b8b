package project

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/store"
)

func newTestGenerator(t *testing.T) (*Generator, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.BudgetConfig{
		TaskSplitWeights: map[string][]float64{
			"research": {0.40, 0.20, 0.20, 0.20},
		},
	}
	return New(slog.Default(), st, cfg), st
}

func seedApprovedGoal(t *testing.T, st *store.Store, kind string, budget decimal.Decimal) store.Goal {
	t.Helper()
	ctx := context.Background()
	g, err := st.InsertGoal(ctx, store.Goal{
		Kind:               kind,
		Description:        "test goal",
		EstimatedBudgetUSD: budget,
	})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	if err := st.ApproveGoal(ctx, g.ID, "alice", ""); err != nil {
		t.Fatalf("ApproveGoal: %v", err)
	}
	g, err = st.GetGoal(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	return g
}

// TestGenerate_ResearchGoal mirrors spec.md's S4: approving a research
// goal and generating a project should produce a 4-task linear chain
// with the search stage allocated 40% of the goal's estimated budget.
func TestGenerate_ResearchGoal(t *testing.T) {
	gen, st := newTestGenerator(t)
	ctx := context.Background()
	goal := seedApprovedGoal(t, st, "research", decimal.NewFromInt(100))

	proj, err := gen.Generate(ctx, goal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if proj.Status != store.ProjectProposed {
		t.Errorf("expected proposed status, got %s", proj.Status)
	}

	tasks, err := st.ListTasksByProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListTasksByProject: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(tasks))
	}

	wantKinds := []string{"search", "synthesize", "kb_write", "commit"}
	for i, want := range wantKinds {
		if tasks[i].Kind != want {
			t.Errorf("task %d: expected kind %s, got %s", i, want, tasks[i].Kind)
		}
	}

	wantSearchBudget := decimal.NewFromInt(100).Mul(decimal.NewFromFloat(0.40)).Round(2)
	if !tasks[0].BudgetAllocatedUSD.Equal(wantSearchBudget) {
		t.Errorf("expected search budget %s, got %s", wantSearchBudget, tasks[0].BudgetAllocatedUSD)
	}

	goalAfter, err := st.GetGoal(ctx, goal.ID)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if goalAfter.Status != store.GoalActive {
		t.Errorf("expected goal active after projectisation, got %s", goalAfter.Status)
	}
}

// TestGenerate_LinearDependencyChain checks each stage depends only on
// its immediate predecessor, so claim_ready_tasks only ever surfaces
// one link of the chain at a time.
func TestGenerate_LinearDependencyChain(t *testing.T) {
	gen, st := newTestGenerator(t)
	ctx := context.Background()
	goal := seedApprovedGoal(t, st, "procurement", decimal.NewFromInt(60))

	proj, err := gen.Generate(ctx, goal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	ready, err := st.ClaimReadyTasks(ctx, 10, nil)
	if err != nil {
		t.Fatalf("ClaimReadyTasks: %v", err)
	}
	if len(ready) != 1 || ready[0].Kind != "quote" {
		t.Fatalf("expected only quote ready, got %+v", ready)
	}

	if err := st.FinishTask(ctx, ready[0].ID, store.TaskSucceeded, "{}", "{}", decimal.Zero); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	ready, err = st.ClaimReadyTasks(ctx, 10, nil)
	if err != nil {
		t.Fatalf("ClaimReadyTasks: %v", err)
	}
	if len(ready) != 1 || ready[0].Kind != "decide" {
		t.Fatalf("expected only decide ready next, got %+v", ready)
	}

	_ = proj
}

// TestGenerate_FabricationGoal_QueuePrintRequiresApproval checks the
// queue_print task is tagged for the human-approval gate.
func TestGenerate_FabricationGoal_QueuePrintRequiresApproval(t *testing.T) {
	gen, st := newTestGenerator(t)
	ctx := context.Background()
	goal := seedApprovedGoal(t, st, "fabrication", decimal.NewFromInt(300))

	proj, err := gen.Generate(ctx, goal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	tasks, err := st.ListTasksByProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListTasksByProject: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	queuePrint := tasks[2]
	if queuePrint.Kind != "queue_print" {
		t.Fatalf("expected last task queue_print, got %s", queuePrint.Kind)
	}
	if queuePrint.Metadata == "{}" || queuePrint.Metadata == "" {
		t.Errorf("expected queue_print to carry approval metadata, got %q", queuePrint.Metadata)
	}
}

// TestGenerate_UnsupportedGoalKind checks a goal kind with no template
// fails loudly rather than silently skipping.
func TestGenerate_UnsupportedGoalKind(t *testing.T) {
	gen, st := newTestGenerator(t)
	ctx := context.Background()
	goal := seedApprovedGoal(t, st, "unknown_kind", decimal.NewFromInt(10))

	if _, err := gen.Generate(ctx, goal); err == nil {
		t.Fatal("expected error for unsupported goal kind")
	}
}

// TestCycle_IsIdempotent mirrors spec.md's no-op-rerun requirement:
// running Cycle twice with no new approved goals creates only one
// project per goal.
func TestCycle_IsIdempotent(t *testing.T) {
	gen, st := newTestGenerator(t)
	ctx := context.Background()
	seedApprovedGoal(t, st, "optimization", decimal.NewFromInt(50))

	first, err := gen.Cycle(ctx)
	if err != nil {
		t.Fatalf("first Cycle: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 project generated, got %d", len(first))
	}

	second, err := gen.Cycle(ctx)
	if err != nil {
		t.Fatalf("second Cycle: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no-op rerun, got %+v", second)
	}
}

// TestCycle_SkipsGoalsNotApproved checks identified (not yet approved)
// goals are left alone.
func TestCycle_SkipsGoalsNotApproved(t *testing.T) {
	gen, st := newTestGenerator(t)
	ctx := context.Background()
	if _, err := st.InsertGoal(ctx, store.Goal{
		Kind: "research", Description: "not approved yet", EstimatedBudgetUSD: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}

	generated, err := gen.Cycle(ctx)
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(generated) != 0 {
		t.Fatalf("expected no projects for unapproved goals, got %+v", generated)
	}
}
