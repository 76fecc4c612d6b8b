// Package execution drives the task-DAG executor: claim ready tasks,
// dispatch each to its kind's handler under a concurrency limit, commit
// the outcome and roll the owning project (and, on completion, its
// goal) up to a terminal status.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/audit"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/store"
)

// HandlerResult is what every handler returns instead of mutating the
// Store directly (spec.md §4.11's handler contract).
type HandlerResult struct {
	Status  store.TaskStatus // TaskSucceeded or TaskFailed
	Result  string           // JSON, set on success
	Error   string           // JSON, set on failure
	CostUSD decimal.Decimal
}

// Handler adapts one task kind to an external capability.
type Handler interface {
	Handle(ctx context.Context, task store.Task) (HandlerResult, error)
}

// KindLimits bounds concurrency and execution deadline per task kind; a
// kind absent from Timeouts falls back to DefaultTimeout.
type KindLimits struct {
	Permits        map[string]int
	DefaultPermits int
	GlobalPermits  int
	Timeouts       map[string]time.Duration
	DefaultTimeout time.Duration
}

// Executor is the TaskExecutor. One Cycle call claims and drives to
// completion a single batch of ready tasks.
type Executor struct {
	log      *slog.Logger
	clock    clock.Clock
	store    *store.Store
	audit    *audit.Log
	handlers map[string]Handler
	retry    map[string]RetryPolicy
	fallback RetryPolicy

	global   *semaphore.Weighted
	perKind  map[string]*semaphore.Weighted
	batchCap int

	timeouts       map[string]time.Duration
	defaultTimeout time.Duration
}

func New(log *slog.Logger, c clock.Clock, st *store.Store, al *audit.Log, handlers map[string]Handler,
	retry map[string]RetryPolicy, fallback RetryPolicy, limits KindLimits) *Executor {

	perKind := make(map[string]*semaphore.Weighted, len(limits.Permits))
	for kind, n := range limits.Permits {
		perKind[kind] = semaphore.NewWeighted(int64(n))
	}

	global := limits.GlobalPermits
	if global <= 0 {
		global = 1
	}

	defaultTimeout := limits.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}

	return &Executor{
		log:            log,
		clock:          c,
		store:          st,
		audit:          al,
		handlers:       handlers,
		retry:          retry,
		fallback:       fallback,
		global:         semaphore.NewWeighted(int64(global)),
		perKind:        perKind,
		batchCap:       global,
		timeouts:       limits.Timeouts,
		defaultTimeout: defaultTimeout,
	}
}

// Cycle claims up to one batch of ready tasks for kinds with free
// permits, and drives each concurrently to a committed outcome. It
// returns once every claimed task in the batch has committed — the
// caller (the scheduler's task_execution job) decides the cadence of
// repeated calls.
func (e *Executor) Cycle(ctx context.Context) error {
	kinds := e.readyKinds()
	claimed, err := e.store.ClaimReadyTasks(ctx, e.batchCap, kinds)
	if err != nil {
		return fmt.Errorf("claim ready tasks: %w", err)
	}

	done := make(chan struct{}, len(claimed))
	for _, task := range claimed {
		task := task
		go func() {
			defer func() { done <- struct{}{} }()
			e.run(ctx, task)
		}()
	}
	for range claimed {
		<-done
	}
	return nil
}

// readyKinds reports which task kinds currently have at least one free
// permit, so ClaimReadyTasks never hands the executor work it cannot
// start immediately.
func (e *Executor) readyKinds() []string {
	if len(e.perKind) == 0 {
		return nil
	}
	var kinds []string
	for kind, sem := range e.perKind {
		if sem.TryAcquire(1) {
			sem.Release(1)
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (e *Executor) run(ctx context.Context, task store.Task) {
	sem := e.perKind[task.Kind]
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			e.requeue(ctx, task, apperr.New(apperr.Internal, "acquire kind semaphore: %v", err))
			return
		}
		defer sem.Release(1)
	}
	if err := e.global.Acquire(ctx, 1); err != nil {
		e.requeue(ctx, task, apperr.New(apperr.Internal, "acquire global semaphore: %v", err))
		return
	}
	defer e.global.Release(1)

	if requiresHumanApproval(task) {
		e.holdForApproval(ctx, task)
		return
	}

	handler, ok := e.handlers[task.Kind]
	if !ok {
		e.finishFailed(ctx, task, apperr.New(apperr.Internal, "no handler registered for kind %s", task.Kind), decimal.Zero)
		return
	}

	if err := e.store.StartTask(ctx, task.ID); err != nil {
		e.log.Error("task_execution: start task failed", "task_id", task.ID, "err", err)
		return
	}

	deadline, ok := e.timeouts[task.Kind]
	if !ok || deadline <= 0 {
		deadline = e.defaultTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := handler.Handle(taskCtx, task)
	if err != nil {
		e.onHandlerError(ctx, task, err)
		return
	}

	switch result.Status {
	case store.TaskSucceeded:
		e.finish(ctx, task, store.TaskSucceeded, result.Result, "{}", result.CostUSD)
	default:
		e.finishFailed(ctx, task, apperr.New(apperr.Internal, "handler returned failure: %s", result.Error), result.CostUSD)
	}
}

func (e *Executor) onHandlerError(ctx context.Context, task store.Task, err error) {
	kind := apperr.KindOf(err)
	if !kind.Retryable() {
		e.finishFailed(ctx, task, err, decimal.Zero)
		return
	}
	e.requeue(ctx, task, err)
}

// requeue applies the kind's retry policy: another pending attempt,
// held back by the computed backoff delay, if attempts remain, else a
// terminal failure.
func (e *Executor) requeue(ctx context.Context, task store.Task, cause error) {
	policy := e.policyFor(task.Kind)
	delay, shouldRetry := policy.NextDelay(task.Attempts)
	if !shouldRetry {
		e.finishFailed(ctx, task, cause, decimal.Zero)
		return
	}
	if err := e.store.RequeueTask(ctx, task.ID, e.clock.Now().Add(delay)); err != nil {
		e.log.Error("task_execution: requeue failed", "task_id", task.ID, "err", err)
		return
	}
	e.publish(task, "task_retrying", map[string]string{"reason": cause.Error()})
}

// holdForApproval requeues a task blocked on a human approval gate. It
// does not consume a retry attempt and bypasses the kind's retry policy
// entirely: the task stays pending, immediately reclaimable, however
// many cycles it takes a human to clear the flag via the HTTP surface.
func (e *Executor) holdForApproval(ctx context.Context, task store.Task) {
	if err := e.store.RequeueTaskHold(ctx, task.ID); err != nil {
		e.log.Error("task_execution: approval hold requeue failed", "task_id", task.ID, "err", err)
		return
	}
	e.publish(task, "task_awaiting_approval", map[string]string{})
}

func (e *Executor) finish(ctx context.Context, task store.Task, status store.TaskStatus, resultJSON, errorJSON string, cost decimal.Decimal) {
	if err := e.store.FinishTask(ctx, task.ID, status, resultJSON, errorJSON, cost); err != nil {
		e.log.Error("task_execution: finish task failed", "task_id", task.ID, "err", err)
		return
	}
	e.publish(task, "task_"+string(status), map[string]string{})
	e.rollup(ctx, task.ProjectID)
}

func (e *Executor) finishFailed(ctx context.Context, task store.Task, cause error, cost decimal.Decimal) {
	errJSON, _ := json.Marshal(map[string]string{"reason": cause.Error()})
	e.finish(ctx, task, store.TaskFailed, "{}", string(errJSON), cost)
}

// rollup advances the owning project (and, on success, its goal) to a
// terminal status once every task in the project is terminal.
func (e *Executor) rollup(ctx context.Context, projectID string) {
	counts, err := e.store.ProjectTaskCounts(ctx, projectID)
	if err != nil {
		e.log.Error("task_execution: rollup counts failed", "project_id", projectID, "err", err)
		return
	}

	total := 0
	terminal := 0
	failed := 0
	for status, n := range counts {
		total += n
		switch status {
		case store.TaskSucceeded, store.TaskFailed, store.TaskSkipped:
			terminal += n
		}
		if status == store.TaskFailed {
			failed += n
		}
	}
	if total == 0 || terminal < total {
		return
	}

	proj, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		e.log.Error("task_execution: rollup get project failed", "project_id", projectID, "err", err)
		return
	}

	status := store.ProjectCompleted
	if failed > 0 {
		status = store.ProjectFailed
	}
	if err := e.store.CompleteProject(ctx, projectID, status, 0); err != nil {
		e.log.Error("task_execution: complete project failed", "project_id", projectID, "err", err)
		return
	}

	if status == store.ProjectCompleted {
		if err := e.store.SetGoalStatus(ctx, proj.GoalID, store.GoalCompleted); err != nil {
			e.log.Error("task_execution: complete goal failed", "goal_id", proj.GoalID, "err", err)
		}
	}
}

func (e *Executor) policyFor(kind string) RetryPolicy {
	if p, ok := e.retry[kind]; ok {
		return p
	}
	return e.fallback
}

func (e *Executor) publish(task store.Task, eventKind string, payload map[string]string) {
	if e.audit == nil {
		return
	}
	e.audit.Publish(audit.Record{
		Actor: "task_executor", EventKind: eventKind, SubjectID: task.ID, Payload: payload,
	})
}

const requiresApprovalMetadataKey = "requires_human_approval"

// requiresHumanApproval reports whether a task's metadata carries the
// queue_print-style approval gate. The project generator sets this key;
// a human clears it out-of-band via POST /tasks/{id}/approve
// (internal/api), which rewrites the task's metadata to drop the flag.
func requiresHumanApproval(task store.Task) bool {
	var meta map[string]string
	if err := json.Unmarshal([]byte(task.Metadata), &meta); err != nil {
		return false
	}
	return meta[requiresApprovalMetadataKey] == "true"
}
