// Package scenario drives the core components together end to end,
// the way cmd/forgecored wires them in production, covering sequences
// that no single package's unit tests exercise on their own: a full
// goal → project → task-chain → outcome measurement → feedback pass.
package scenario

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/handlers"
	"github.com/forgecore/autonomy/internal/project"
	"github.com/forgecore/autonomy/internal/store"
)

type stubSearch struct{}

func (stubSearch) Search(ctx context.Context, query string, topK int) ([]capability.SearchResult, error) {
	return []capability.SearchResult{{Title: "nylon print settings", URL: "https://example.test/nylon"}}, nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	return "synthesized: " + prompt, nil
}

type stubKnowledgeStore struct {
	written map[string]string
}

func newStubKnowledgeStore() *stubKnowledgeStore {
	return &stubKnowledgeStore{written: map[string]string{}}
}

func (s *stubKnowledgeStore) Write(ctx context.Context, category, slug, frontmatter, body string) (string, error) {
	path := category + "/" + slug + ".md"
	s.written[path] = body
	return path, nil
}

func (s *stubKnowledgeStore) Exists(ctx context.Context, category, slug string) (bool, error) {
	_, ok := s.written[category+"/"+slug+".md"]
	return ok, nil
}

func (s *stubKnowledgeStore) UsageStats(ctx context.Context, path string, since time.Time) (capability.UsageStats, error) {
	return capability.UsageStats{Views: 40, Refs: 18}, nil
}

type stubVCS struct {
	commits [][]string
}

func (s *stubVCS) Commit(ctx context.Context, paths []string, message string) (string, error) {
	s.commits = append(s.commits, paths)
	return "deadbeef", nil
}

// TestS5_ExecutionRollup drives S4's generated research project
// (search → synthesize → kb_write → commit) to completion one ready
// task at a time, and checks that the project and goal both roll up to
// completed on the fourth commit, with the budget ledger matching the
// project's recorded spend.
func TestS5_ExecutionRollup(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	gen := project.New(slog.Default(), st, config.BudgetConfig{
		TaskSplitWeights: map[string][]float64{
			"research": {0.40, 0.20, 0.20, 0.20},
		},
	})

	goal, err := st.InsertGoal(ctx, store.Goal{
		Kind:               "research",
		Description:        "research nylon print settings",
		EstimatedBudgetUSD: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	if err := st.ApproveGoal(ctx, goal.ID, "alice", ""); err != nil {
		t.Fatalf("ApproveGoal: %v", err)
	}
	goal, err = st.GetGoal(ctx, goal.ID)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}

	proj, err := gen.Generate(ctx, goal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tasks, err := st.ListTasksByProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListTasksByProject: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("task count = %d, want 4 (search, synthesize, kb_write, commit)", len(tasks))
	}

	kb := newStubKnowledgeStore()
	vcs := &stubVCS{}
	reg := handlers.Registry(handlers.Deps{
		Store:       st,
		Search:      stubSearch{},
		Synthesizer: stubSynthesizer{},
		Knowledge:   kb,
		VCS:         vcs,
	})

	ex := execution.New(slog.Default(), clock.RealClock{}, st, nil, reg, nil,
		execution.RetryPolicy{MaxAttempts: 1},
		execution.KindLimits{DefaultPermits: 4, GlobalPermits: 4, DefaultTimeout: 5 * time.Second})

	// Drive the chain one ready task at a time: each Cycle claims only
	// the next link, since its sibling hasn't succeeded yet.
	for i := 0; i < 4; i++ {
		if err := ex.Cycle(ctx); err != nil {
			t.Fatalf("Cycle %d: %v", i, err)
		}
	}

	gotTasks, err := st.ListTasksByProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("ListTasksByProject: %v", err)
	}
	for _, task := range gotTasks {
		if task.Status != store.TaskSucceeded {
			t.Fatalf("task %s (%s) status = %s, want succeeded", task.ID, task.Kind, task.Status)
		}
	}

	gotProj, err := st.GetProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if gotProj.Status != store.ProjectCompleted {
		t.Fatalf("project status = %s, want completed", gotProj.Status)
	}

	gotGoal, err := st.GetGoal(ctx, goal.ID)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if gotGoal.Status != store.GoalCompleted {
		t.Fatalf("goal status = %s, want completed", gotGoal.Status)
	}

	if len(vcs.commits) != 1 {
		t.Fatalf("expected exactly one commit, got %d", len(vcs.commits))
	}
	if len(kb.written) != 1 {
		t.Fatalf("expected exactly one knowledge base write, got %d", len(kb.written))
	}

	// Every task in this project committed through FinishTask, which
	// updates budget_ledger and projects.budget_spent_usd in the same
	// transaction (internal/store/tasks.go), so the two can never drift;
	// SpendSince(epoch) sums every ledger row, and this test's only
	// project is the only spender in the store.
	ledgerTotal, err := st.SpendSince(ctx, time.Time{})
	if err != nil {
		t.Fatalf("SpendSince: %v", err)
	}
	if !ledgerTotal.Equal(gotProj.BudgetSpentUSD) {
		t.Fatalf("ledger total %s != project.budget_spent_usd %s", ledgerTotal, gotProj.BudgetSpentUSD)
	}
}
