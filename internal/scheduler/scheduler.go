// Package scheduler drives every periodic job in the autonomous core: a
// tick loop evaluates each job's Trigger, gates it behind the
// maintenance window and the ResourceManager's admission decision, and
// dispatches it onto a bounded worker pool with non-reentrance per job.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgecore/autonomy/internal/audit"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/resource"
)

// JobFunc is the work a job performs. It must honour ctx's deadline.
type JobFunc func(ctx context.Context) error

// Job is one registered unit of periodic work.
type Job struct {
	Name     string
	Trigger  Trigger
	Workload resource.WorkloadClass
	Deadline time.Duration
	Gated    bool // subject to the maintenance window unless full_time_mode
	Fn       JobFunc
}

type jobState struct {
	job        Job
	running    atomic.Bool
	nextRunAt  time.Time
	lastRunAt  time.Time
	lastStatus string
	mu         sync.Mutex
}

// JobSummary is the /scheduler/jobs view of one job's state.
type JobSummary struct {
	Name       string
	Trigger    string
	NextRunAt  time.Time
	LastRunAt  time.Time
	LastStatus string
}

// Scheduler owns the tick loop, job registry, and worker pool.
type Scheduler struct {
	log          *slog.Logger
	clock        clock.Clock
	resourceMgr  *resource.Manager
	auditLog     *audit.Log
	tickInterval time.Duration
	window       windowConfig
	fullTimeMode bool

	jobsMu sync.RWMutex
	jobs   []*jobState

	paused atomic.Bool

	work chan func()

	stop chan struct{}
	wg   sync.WaitGroup
}

type windowConfig struct {
	StartHour, EndHour int
	Zone               string
}

// Config configures the scheduler's tick cadence, worker pool size, and
// maintenance window.
type Config struct {
	TickInterval time.Duration
	PoolSize     int
	BacklogSize  int
	WindowStart  int
	WindowEnd    int
	WindowZone   string
	FullTimeMode bool
}

// New constructs a Scheduler and starts its fixed worker pool.
func New(log *slog.Logger, c clock.Clock, rm *resource.Manager, al *audit.Log, cfg Config) *Scheduler {
	s := &Scheduler{
		log:          log,
		clock:        c,
		resourceMgr:  rm,
		auditLog:     al,
		tickInterval: cfg.TickInterval,
		window:       windowConfig{StartHour: cfg.WindowStart, EndHour: cfg.WindowEnd, Zone: cfg.WindowZone},
		fullTimeMode: cfg.FullTimeMode,
		work:         make(chan func(), cfg.BacklogSize),
		stop:         make(chan struct{}),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Register adds a job to the schedule, seeding its first nextRunAt.
func (s *Scheduler) Register(j Job) {
	st := &jobState{job: j, nextRunAt: j.Trigger.Next(s.clock.Now())}
	s.jobsMu.Lock()
	s.jobs = append(s.jobs, st)
	s.jobsMu.Unlock()
}

// Run starts the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(s.stop)
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Pause stops new jobs from being dispatched on future ticks; a job
// already running is left to finish.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume allows dispatch to continue.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// IsPaused reports whether the scheduler is currently paused.
func (s *Scheduler) IsPaused() bool { return s.paused.Load() }

func (s *Scheduler) tick(ctx context.Context) {
	if s.paused.Load() {
		return
	}
	now := s.clock.Now()

	s.jobsMu.RLock()
	jobs := make([]*jobState, len(s.jobs))
	copy(jobs, s.jobs)
	s.jobsMu.RUnlock()

	for _, st := range jobs {
		st.mu.Lock()
		due := !now.Before(st.nextRunAt)
		if due {
			st.nextRunAt = st.job.Trigger.Next(now)
		}
		st.mu.Unlock()
		if !due {
			continue
		}
		s.dispatch(ctx, st, now)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, st *jobState, now time.Time) {
	if !st.running.CompareAndSwap(false, true) {
		s.publishDrop(st.job.Name, "reentrant: previous invocation still running")
		return
	}

	if st.job.Gated && !s.fullTimeMode {
		inWindow, err := clock.InWindow(s.clock, now, s.window.StartHour, s.window.EndHour, s.window.Zone)
		if err != nil || !inWindow {
			st.running.Store(false)
			s.publishDrop(st.job.Name, "outside maintenance window")
			return
		}
	}

	if s.resourceMgr != nil {
		decision := s.resourceMgr.Admit(ctx, st.job.Workload)
		if !decision.Allow {
			st.running.Store(false)
			s.publishDrop(st.job.Name, "admission denied: "+decision.Reason)
			return
		}
	}

	task := func() {
		defer st.running.Store(false)
		s.runJob(ctx, st)
	}

	select {
	case s.work <- task:
	default:
		st.running.Store(false)
		s.publishDrop(st.job.Name, "worker pool backlog full")
	}
}

func (s *Scheduler) runJob(ctx context.Context, st *jobState) {
	deadline := st.job.Deadline
	if deadline <= 0 {
		deadline = s.tickInterval
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := s.clock.Now()
	err := st.job.Fn(jobCtx)

	st.mu.Lock()
	st.lastRunAt = start
	if err != nil {
		st.lastStatus = "failed: " + err.Error()
	} else {
		st.lastStatus = "succeeded"
	}
	st.mu.Unlock()

	if err != nil {
		s.log.Error("scheduler: job failed", "job", st.job.Name, "err", err)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.stop:
			return
		}
	}
}

// Jobs returns a snapshot of every registered job's scheduling state.
func (s *Scheduler) Jobs() []JobSummary {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	out := make([]JobSummary, 0, len(s.jobs))
	for _, st := range s.jobs {
		st.mu.Lock()
		out = append(out, JobSummary{
			Name:       st.job.Name,
			Trigger:    st.job.Trigger.String(),
			NextRunAt:  st.nextRunAt,
			LastRunAt:  st.lastRunAt,
			LastStatus: st.lastStatus,
		})
		st.mu.Unlock()
	}
	return out
}

func (s *Scheduler) publishDrop(job, reason string) {
	if s.auditLog == nil {
		return
	}
	s.auditLog.Publish(audit.Record{
		Actor:     "scheduler",
		EventKind: "job_dropped",
		SubjectID: job,
		Payload:   map[string]string{"reason": reason},
	})
}
