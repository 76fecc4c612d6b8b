package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/approval"
	"github.com/forgecore/autonomy/internal/audit"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/netpool"
	"github.com/forgecore/autonomy/internal/scheduler"
	"github.com/forgecore/autonomy/internal/store"
)

type testServer struct {
	srv   *Server
	store *store.Store
	gate  *approval.Gate
	sched *scheduler.Scheduler
	pools *netpool.Registry
}

func setupTestServer(t *testing.T, secure bool) *testServer {
	t.Helper()

	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	al := audit.New(logger, st, audit.Config{QueueSize: 64})
	t.Cleanup(al.Close)

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := approval.New(st, fc, al, nil)

	sched := scheduler.New(logger, fc, nil, al, scheduler.Config{
		TickInterval: time.Hour,
		PoolSize:     1,
		BacklogSize:  1,
		WindowStart:  0,
		WindowEnd:    24,
		WindowZone:   "UTC",
		FullTimeMode: true,
	})
	sched.Register(scheduler.Job{Name: "opportunity_cycle", Trigger: scheduler.IntervalTrigger{Period: time.Hour}})

	pools := netpool.NewRegistry(prometheus.NewRegistry())

	cfg := &config.API{Bind: "127.0.0.1:0", Security: config.APISecurity{Enabled: secure, JWTSigningKey: "test-signing-key"}}

	srv, err := NewServer(logger, cfg, st, gate, sched, pools, al, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return &testServer{srv: srv, store: st, gate: gate, sched: sched, pools: pools}
}

func (ts *testServer) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ts.srv.handleHealth)
	mux.HandleFunc("/metrics", ts.srv.handleMetrics)
	mux.HandleFunc("/goals", ts.srv.handleGoals)
	mux.HandleFunc("/goals/", ts.srv.routeGoalDetail)
	mux.HandleFunc("/tasks/", ts.srv.routeTaskDetail)
	mux.HandleFunc("/scheduler/jobs", ts.srv.handleSchedulerJobs)
	mux.HandleFunc("/scheduler/pause", ts.srv.authMiddleware.RequireAuth(ts.srv.handleSchedulerPause))
	mux.HandleFunc("/scheduler/resume", ts.srv.authMiddleware.RequireAuth(ts.srv.handleSchedulerResume))
	return mux
}

func insertGoal(t *testing.T, ts *testServer, kind string, status store.GoalStatus) store.Goal {
	t.Helper()
	g, err := ts.store.InsertGoal(t.Context(), store.Goal{
		Kind:               kind,
		Description:        "investigate upstream drift",
		Rationale:          "recurring variance observed",
		EstimatedBudgetUSD: decimal.NewFromInt(25),
		ImpactScore:        0.7,
	})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	if status != store.GoalIdentified && status != "" {
		g.Status = status
	}
	return g
}

func authedReq(method, path, bearer string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	return r
}

func TestHandleGoals_ListsAndFilters(t *testing.T) {
	ts := setupTestServer(t, false)
	insertGoal(t, ts, "research", store.GoalIdentified)
	insertGoal(t, ts, "fabrication", store.GoalIdentified)

	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/goals", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out []goalView
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 goals, got %d", len(out))
	}

	w = httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/goals?kind=fabrication", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Kind != "fabrication" {
		t.Fatalf("expected 1 fabrication goal, got %+v", out)
	}
}

func TestHandleGoalDetail_NotFound(t *testing.T) {
	ts := setupTestServer(t, false)
	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/goals/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleGoalDetail_Found(t *testing.T) {
	ts := setupTestServer(t, false)
	g := insertGoal(t, ts, "research", store.GoalIdentified)

	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/goals/"+g.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var v goalView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.ID != g.ID {
		t.Errorf("id = %q, want %q", v.ID, g.ID)
	}
}

func TestHandleGoalApprove_RequiresActor(t *testing.T) {
	ts := setupTestServer(t, false)
	g := insertGoal(t, ts, "research", store.GoalIdentified)

	w := httptest.NewRecorder()
	req := authedReq(http.MethodPost, "/goals/"+g.ID+"/approve", "", []byte(`{}`))
	ts.mux().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing actor, got %d", w.Code)
	}
}

func TestHandleGoalApprove_IsIdempotent(t *testing.T) {
	ts := setupTestServer(t, false)
	g := insertGoal(t, ts, "research", store.GoalIdentified)

	body := []byte(`{"actor":"alice","notes":"looks safe"}`)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/goals/"+g.ID+"/approve", "", body))
		if w.Code != http.StatusOK {
			t.Fatalf("approve #%d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var v goalView
		if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if v.Status != string(store.GoalApproved) {
			t.Errorf("status = %q, want approved", v.Status)
		}
	}
}

func TestHandleGoalApprove_RequiresAuthWhenEnabled(t *testing.T) {
	ts := setupTestServer(t, true)
	g := insertGoal(t, ts, "research", store.GoalIdentified)
	body := []byte(`{"actor":"alice"}`)

	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/goals/"+g.ID+"/approve", "", body))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token := signToken(t, "test-signing-key", "alice")
	w = httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/goals/"+g.ID+"/approve", token, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGoalReject_InvalidState(t *testing.T) {
	ts := setupTestServer(t, false)
	g := insertGoal(t, ts, "research", store.GoalIdentified)
	body := []byte(`{"actor":"alice"}`)

	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/goals/"+g.ID+"/approve", "", body))
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/goals/"+g.ID+"/reject", "", body))
	if w.Code != http.StatusConflict {
		t.Fatalf("rejecting an approved goal: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleTaskApprove_ClearsHoldAndRejectsSecondClear(t *testing.T) {
	ts := setupTestServer(t, false)
	g, err := ts.store.InsertGoal(t.Context(), store.Goal{Kind: "fabrication", EstimatedBudgetUSD: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("InsertGoal: %v", err)
	}
	proj, err := ts.store.InsertProject(t.Context(), store.Project{GoalID: g.ID, Title: "t", BudgetAllocatedUSD: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
	task, err := ts.store.InsertTask(t.Context(), store.Task{
		ProjectID: proj.ID, Kind: "queue_print", MaxAttempts: 3,
		Metadata: `{"requires_human_approval":"true"}`,
	}, nil)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	body := []byte(`{"actor":"alice","notes":"reviewed the print job"}`)
	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/tasks/"+task.ID+"/approve", "", body))
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/tasks/"+task.ID+"/approve", "", body))
	if w.Code != http.StatusConflict {
		t.Fatalf("re-approving a cleared task: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleTaskApprove_RequiresActor(t *testing.T) {
	ts := setupTestServer(t, false)
	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, authedReq(http.MethodPost, "/tasks/anything/approve", "", []byte(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without actor, got %d", w.Code)
	}
}

func TestHandleSchedulerJobs(t *testing.T) {
	ts := setupTestServer(t, false)
	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var jobs []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 1 || jobs[0]["name"] != "opportunity_cycle" {
		t.Fatalf("expected 1 job named opportunity_cycle, got %+v", jobs)
	}
}

func TestHandleSchedulerPauseResume_RequiresAuth(t *testing.T) {
	ts := setupTestServer(t, true)

	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scheduler/pause", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token := signToken(t, "test-signing-key", "alice")
	req := httptest.NewRequest(http.MethodPost, "/scheduler/pause", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	ts.mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}
	if !ts.sched.IsPaused() {
		t.Fatal("expected scheduler paused after /scheduler/pause")
	}

	req = httptest.NewRequest(http.MethodPost, "/scheduler/resume", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	ts.mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ts.sched.IsPaused() {
		t.Fatal("expected scheduler resumed after /scheduler/resume")
	}
}

func TestHandleHealth_HealthyWithNoPools(t *testing.T) {
	ts := setupTestServer(t, false)
	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["healthy"] != true {
		t.Errorf("expected healthy=true, got %+v", resp)
	}
}

func TestHandleHealth_FreshPoolIsHealthy(t *testing.T) {
	ts := setupTestServer(t, false)
	ts.pools.Get("kiln_gateway", netpool.PoolConfig{BaseURL: "http://127.0.0.1:1", FailureThreshold: 1, RecoveryTimeout: time.Minute})

	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("a freshly created pool defaults healthy; expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["healthy"] != true {
		t.Errorf("expected healthy=true for a fresh pool, got %+v", resp)
	}
}

func TestHandleMetrics_ReturnsPrometheusFormat(t *testing.T) {
	ts := setupTestServer(t, false)
	w := httptest.NewRecorder()
	ts.mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct == "" {
		t.Error("expected a Content-Type header on /metrics")
	}
}
