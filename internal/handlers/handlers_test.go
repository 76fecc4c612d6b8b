package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/store"
)

type fakeSearch struct {
	results []capability.SearchResult
}

func (f *fakeSearch) Search(ctx context.Context, query string, topK int) ([]capability.SearchResult, error) {
	return f.results, nil
}

type fakeSynthesizer struct {
	text string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	return f.text, nil
}

type fakeKnowledgeStore struct {
	written map[string]string
}

func newFakeKnowledgeStore() *fakeKnowledgeStore {
	return &fakeKnowledgeStore{written: map[string]string{}}
}

func (f *fakeKnowledgeStore) Write(ctx context.Context, category, slug, frontmatter, body string) (string, error) {
	path := category + "/" + slug + ".md"
	f.written[path] = body
	return path, nil
}

func (f *fakeKnowledgeStore) Exists(ctx context.Context, category, slug string) (bool, error) {
	_, ok := f.written[category+"/"+slug+".md"]
	return ok, nil
}

func (f *fakeKnowledgeStore) UsageStats(ctx context.Context, path string, since time.Time) (capability.UsageStats, error) {
	return capability.UsageStats{}, nil
}

type fakeVCS struct {
	committed []string
}

func (f *fakeVCS) Commit(ctx context.Context, paths []string, message string) (string, error) {
	f.committed = append(f.committed, paths...)
	return "deadbeef", nil
}

type fakeTelemetry struct {
	events []capability.OperationalEvent
}

func (f *fakeTelemetry) OperationalHistory(ctx context.Context, kind string, since time.Time) ([]capability.OperationalEvent, error) {
	return f.events, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustInsertProjectTask(t *testing.T, st *store.Store, projectID, kind, metadata, result string, dependsOn []string) store.Task {
	t.Helper()
	ctx := context.Background()
	task, err := st.InsertTask(ctx, store.Task{
		ProjectID:          projectID,
		Kind:               kind,
		Title:              kind,
		BudgetAllocatedUSD: decimal.NewFromInt(1),
		Metadata:           metadata,
	}, dependsOn)
	if err != nil {
		t.Fatalf("InsertTask(%s): %v", kind, err)
	}
	if result != "" {
		if err := st.FinishTask(ctx, task.ID, store.TaskSucceeded, result, "{}", decimal.Zero); err != nil {
			t.Fatalf("FinishTask: %v", err)
		}
		task, err = st.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
	}
	return task
}

func mustInsertProject(t *testing.T, st *store.Store, goalKind string) store.Project {
	t.Helper()
	ctx := context.Background()
	g, err := st.InsertGoal(ctx, store.Goal{Kind: goalKind, Description: "test", EstimatedBudgetUSD: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	p, err := st.InsertProject(ctx, store.Project{GoalID: g.ID, Title: "test", BudgetAllocatedUSD: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	return p
}

func TestSearchHandler_ReturnsResults(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "research")
	task := mustInsertProjectTask(t, st, proj.ID, "search", `{"query":"sensor drift"}`, "", nil)

	h := &SearchHandler{search: &fakeSearch{results: []capability.SearchResult{{Title: "a"}}}}
	result, err := h.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != store.TaskSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "research")
	task := mustInsertProjectTask(t, st, proj.ID, "search", `{}`, "", nil)

	h := &SearchHandler{search: &fakeSearch{}}
	if _, err := h.Handle(context.Background(), task); err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestSynthesizeHandler_UsesSearchSiblingQuery(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "research")
	search := mustInsertProjectTask(t, st, proj.ID, "search", `{"query":"sensor drift"}`,
		`{"query":"sensor drift","results":[]}`, nil)
	synth := mustInsertProjectTask(t, st, proj.ID, "synthesize", `{}`, "", []string{search.ID})

	h := &SynthesizeHandler{store: st, synth: &fakeSynthesizer{text: "summary text"}}
	result, err := h.Handle(context.Background(), synth)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Result != `{"synthesis":"summary text"}` {
		t.Fatalf("result = %s", result.Result)
	}
}

func TestKBWriteHandler_WritesSynthesisBody(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "research")
	synth := mustInsertProjectTask(t, st, proj.ID, "synthesize", `{}`, `{"synthesis":"body text"}`, nil)
	write := mustInsertProjectTask(t, st, proj.ID, "kb_write", `{"category":"research","slug":"sensor-drift"}`, "", []string{synth.ID})

	kb := newFakeKnowledgeStore()
	h := &KBWriteHandler{store: st, kb: kb}
	result, err := h.Handle(context.Background(), write)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != store.TaskSucceeded {
		t.Fatalf("status = %s", result.Status)
	}
	if kb.written["research/sensor-drift.md"] != "body text" {
		t.Fatalf("written body = %q", kb.written["research/sensor-drift.md"])
	}
}

func TestCommitHandler_CommitsKBWritePath(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "research")
	write := mustInsertProjectTask(t, st, proj.ID, "kb_write", `{}`, `{"path":"research/x.md"}`, nil)
	commit := mustInsertProjectTask(t, st, proj.ID, "commit", `{}`, "", []string{write.ID})

	vcs := &fakeVCS{}
	h := &CommitHandler{store: st, vcs: vcs}
	if _, err := h.Handle(context.Background(), commit); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(vcs.committed) != 1 || vcs.committed[0] != "research/x.md" {
		t.Fatalf("committed = %v", vcs.committed)
	}
}

func TestAnalyzeHandler_PicksCheapestTier(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "optimization")
	task := mustInsertProjectTask(t, st, proj.ID, "analyze", `{}`, "", nil)

	telemetry := &fakeTelemetry{events: []capability.OperationalEvent{
		{Tier: "premium", CostUSD: 10},
		{Tier: "standard", CostUSD: 2},
		{Tier: "standard", CostUSD: 1},
	}}
	h := &AnalyzeHandler{telemetry: telemetry}
	result, err := h.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != store.TaskSucceeded {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestReviewSafetyHandler_FlagsKeywords(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "fabrication")
	cad := mustInsertProjectTask(t, st, proj.ID, "cad", `{}`, `{"cad_spec":"a Load-Bearing bracket"}`, nil)
	review := mustInsertProjectTask(t, st, proj.ID, "review_safety", `{}`, "", []string{cad.ID})

	h := &ReviewSafetyHandler{store: st}
	result, err := h.Handle(context.Background(), review)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Result == `{"clear":true,"flagged_terms":null}` {
		t.Fatalf("expected flagged terms, got %s", result.Result)
	}
}

func TestQueuePrintHandler_RefusesWhenNotClear(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "fabrication")
	review := mustInsertProjectTask(t, st, proj.ID, "review_safety", `{}`, `{"clear":false,"flagged_terms":["load-bearing"]}`, nil)
	queue := mustInsertProjectTask(t, st, proj.ID, "queue_print", `{"requires_human_approval":"true"}`, "", []string{review.ID})

	h := &QueuePrintHandler{store: st}
	if _, err := h.Handle(context.Background(), queue); err == nil {
		t.Fatal("expected denial when safety review is not clear")
	}
}

func TestQueuePrintHandler_QueuesWhenClear(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "fabrication")
	review := mustInsertProjectTask(t, st, proj.ID, "review_safety", `{}`, `{"clear":true,"flagged_terms":[]}`, nil)
	queue := mustInsertProjectTask(t, st, proj.ID, "queue_print", `{"requires_human_approval":"true"}`, "", []string{review.ID})

	h := &QueuePrintHandler{store: st}
	result, err := h.Handle(context.Background(), queue)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != store.TaskSucceeded {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestDecideHandler_PicksCheapestVendor(t *testing.T) {
	st := newTestStore(t)
	proj := mustInsertProject(t, st, "procurement")
	quote := mustInsertProjectTask(t, st, proj.ID, "quote", `{}`,
		`{"rfq":"...","quotes":[{"vendor":"acme","price_usd":50,"lead_days":3},{"vendor":"globex","price_usd":30,"lead_days":5}]}`, nil)
	decide := mustInsertProjectTask(t, st, proj.ID, "decide", `{}`, "", []string{quote.ID})

	h := &DecideHandler{store: st}
	result, err := h.Handle(context.Background(), decide)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Result != `{"price_usd":30,"selected_vendor":"globex"}` {
		t.Fatalf("result = %s", result.Result)
	}
}

func TestRegistry_CoversEveryTemplateStage(t *testing.T) {
	reg := Registry(Deps{})
	for _, kind := range []string{
		"search", "synthesize", "kb_write", "commit",
		"research", "update_guide",
		"analyze", "document",
		"quote", "decide", "order",
		"cad", "review_safety", "queue_print",
	} {
		if _, ok := reg[kind]; !ok {
			t.Errorf("Registry missing handler for kind %q", kind)
		}
	}
}
