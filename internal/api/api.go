// Package api provides the thin HTTP surface for querying and steering
// the autonomous operations core (spec.md §6): goal inspection and
// approval, scheduler and pool introspection, metrics, and a live
// audit tail.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgecore/autonomy/internal/approval"
	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/audit"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/netpool"
	"github.com/forgecore/autonomy/internal/scheduler"
	"github.com/forgecore/autonomy/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	cfg            *config.API
	store          *store.Store
	gate           *approval.Gate
	scheduler      *scheduler.Scheduler
	pools          *netpool.Registry
	auditLog       *audit.Log
	metrics        *prometheus.Registry
	log            *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
	upgrader       websocket.Upgrader
}

// NewServer constructs an API server. metrics may be nil, in which case
// /metrics reports an empty body.
func NewServer(log *slog.Logger, cfg *config.API, st *store.Store, gate *approval.Gate, sched *scheduler.Scheduler, pools *netpool.Registry, al *audit.Log, metrics *prometheus.Registry) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(&cfg.Security, log)
	if err != nil {
		return nil, fmt.Errorf("init auth middleware: %w", err)
	}

	return &Server{
		cfg:            cfg,
		store:          st,
		gate:           gate,
		scheduler:      sched,
		pools:          pools,
		auditLog:       al,
		metrics:        metrics,
		log:            log,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
		upgrader:       websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}, nil
}

// Close releases the server's own resources (the audit log file); it
// does not close the shared Store, Scheduler, or audit.Log.
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Start begins listening on the configured bind address. Blocks until
// ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/goals", s.handleGoals)
	mux.HandleFunc("/goals/", s.routeGoalDetail)
	mux.HandleFunc("/tasks/", s.routeTaskDetail)
	mux.HandleFunc("/scheduler/jobs", s.handleSchedulerJobs)
	mux.HandleFunc("/stream/audit", s.handleAuditStream)

	mux.HandleFunc("/scheduler/pause", s.authMiddleware.RequireAuth(s.handleSchedulerPause))
	mux.HandleFunc("/scheduler/resume", s.authMiddleware.RequireAuth(s.handleSchedulerResume))

	s.httpServer = &http.Server{
		Addr:        s.cfg.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.log.Info("api server starting", "bind", s.cfg.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeAppError maps an apperr.Kind to the HTTP status spec.md §6
// assigns it. This is the one switch site for that mapping; every
// handler below funnels store/gate errors through it.
func writeAppError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.InvalidInput:
		writeError(w, http.StatusBadRequest, err.Error())
	case apperr.NotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case apperr.InvalidState:
		writeError(w, http.StatusConflict, err.Error())
	case apperr.UpstreamUnavailable, apperr.RateLimited, apperr.Timeout:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case apperr.Denied:
		writeError(w, http.StatusForbidden, err.Error())
	case apperr.BudgetExceeded:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// goalView is the JSON shape returned for a Goal.
type goalView struct {
	ID                 string   `json:"id"`
	Kind               string   `json:"kind"`
	Description        string   `json:"description"`
	Rationale          string   `json:"rationale"`
	EstimatedBudgetUSD string   `json:"estimated_budget_usd"`
	Status             string   `json:"status"`
	ImpactScore        float64  `json:"impact_score"`
	IdentifiedAt       string   `json:"identified_at"`
	ApprovedAt         *string  `json:"approved_at,omitempty"`
	ApprovedBy         string   `json:"approved_by,omitempty"`
	EffectivenessScore *float64 `json:"effectiveness_score,omitempty"`
}

func toGoalView(g store.Goal) goalView {
	v := goalView{
		ID:                 g.ID,
		Kind:               g.Kind,
		Description:        g.Description,
		Rationale:          g.Rationale,
		EstimatedBudgetUSD: g.EstimatedBudgetUSD.String(),
		Status:             string(g.Status),
		ImpactScore:        g.ImpactScore,
		IdentifiedAt:       g.IdentifiedAt.Format(time.RFC3339),
		ApprovedBy:         g.ApprovedBy,
		EffectivenessScore: g.EffectivenessScore,
	}
	if g.ApprovedAt != nil {
		formatted := g.ApprovedAt.Format(time.RFC3339)
		v.ApprovedAt = &formatted
	}
	return v
}

// GET /goals?status&kind&limit
func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	goals, err := s.gate.List(r.Context(), store.GoalStatus(q.Get("status")), q.Get("kind"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}

	out := make([]goalView, 0, len(goals))
	for _, g := range goals {
		out = append(out, toGoalView(g))
	}
	writeJSON(w, out)
}

// routeGoalDetail dispatches /goals/{id}, /goals/{id}/approve, and
// /goals/{id}/reject.
func (s *Server) routeGoalDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/goals/")
	if path == "" {
		s.handleGoals(w, r)
		return
	}

	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		s.authMiddleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) { s.handleGoalApprove(w, r, id) })(w, r)
		return
	}
	if id, ok := strings.CutSuffix(path, "/reject"); ok {
		s.authMiddleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) { s.handleGoalReject(w, r, id) })(w, r)
		return
	}
	s.handleGoalDetail(w, r, path)
}

// GET /goals/{id}
func (s *Server) handleGoalDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	goal, err := s.gate.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, toGoalView(goal))
}

type approvalBody struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

func decodeApprovalBody(r *http.Request) (approvalBody, error) {
	var body approvalBody
	if r.Body == nil {
		return body, fmt.Errorf("request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(body.Actor) == "" {
		return body, fmt.Errorf("actor is required")
	}
	return body, nil
}

// POST /goals/{id}/approve
func (s *Server) handleGoalApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := decodeApprovalBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	goal, err := s.gate.Approve(r.Context(), id, body.Actor, body.Notes)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, toGoalView(goal))
}

// POST /goals/{id}/reject
func (s *Server) handleGoalReject(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := decodeApprovalBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	goal, err := s.gate.Reject(r.Context(), id, body.Actor, body.Notes)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, toGoalView(goal))
}

// taskView is the JSON shape returned for a Task.
type taskView struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
}

func toTaskView(t store.Task) taskView {
	return taskView{ID: t.ID, ProjectID: t.ProjectID, Kind: t.Kind, Title: t.Title, Status: string(t.Status), Attempts: t.Attempts}
}

// routeTaskDetail dispatches /tasks/{id}/approve. There is no bare
// GET /tasks/{id} — task inspection happens through a project's task
// list, not as its own list/detail pair.
func (s *Server) routeTaskDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		s.authMiddleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) { s.handleTaskApprove(w, r, id) })(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

// POST /tasks/{id}/approve — clears a queue_print-style
// requires_human_approval hold, the only way one is ever lifted.
func (s *Server) handleTaskApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := decodeApprovalBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.gate.ApproveTask(r.Context(), id, body.Actor, body.Notes)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, toTaskView(task))
}

// GET /scheduler/jobs
func (s *Server) handleSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	type jobView struct {
		Name       string `json:"name"`
		Trigger    string `json:"trigger"`
		NextRunAt  string `json:"next_run_at"`
		LastRunAt  string `json:"last_run_at,omitempty"`
		LastStatus string `json:"last_status,omitempty"`
	}
	jobs := s.scheduler.Jobs()
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{Name: j.Name, Trigger: j.Trigger, NextRunAt: j.NextRunAt.Format(time.RFC3339), LastStatus: j.LastStatus}
		if !j.LastRunAt.IsZero() {
			v.LastRunAt = j.LastRunAt.Format(time.RFC3339)
		}
		out = append(out, v)
	}
	writeJSON(w, out)
}

// POST /scheduler/pause
func (s *Server) handleSchedulerPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.scheduler.Pause()
	writeJSON(w, map[string]any{"paused": true})
}

// POST /scheduler/resume
func (s *Server) handleSchedulerResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.scheduler.Resume()
	writeJSON(w, map[string]any{"paused": false})
}

// GET /health — liveness plus per-pool circuit breaker state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pools := s.pools.Snapshot()
	healthy := true
	for _, p := range pools {
		if !p.Healthy {
			healthy = false
			break
		}
	}

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	resp := map[string]any{
		"healthy":  healthy,
		"uptime_s": time.Since(s.startTime).Seconds(),
		"pools":    pools,
		"paused":   s.scheduler.IsPaused(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GET /metrics — Prometheus exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		return
	}
	promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// GET /stream/audit — upgrades to a websocket and tails new audit
// events. Polls the store rather than subscribing to an in-process
// channel, since audit.Log's drain goroutine only fans out externally
// to NATS, which this endpoint does not depend on.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastID int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := s.store.ListAuditEvents(ctx, 100)
			if err != nil {
				continue
			}
			// ListAuditEvents returns newest-first; walk oldest-first so
			// the client sees events in chronological order.
			for i := len(events) - 1; i >= 0; i-- {
				e := events[i]
				if e.ID <= lastID {
					continue
				}
				if err := conn.WriteJSON(e); err != nil {
					return
				}
				lastID = e.ID
			}
		}
	}
}
