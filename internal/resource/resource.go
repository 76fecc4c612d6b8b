// Package resource implements the admission controller gating every
// scheduled job and task claim behind the daily budget, host idle time,
// and CPU/memory ceilings.
package resource

import (
	"context"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/store"
)

// WorkloadClass is the declared cost/urgency tier of a unit of work.
// Interactive work is exempt from the idle-time gate; everything at
// Scheduled or above must wait for the host to be quiet.
type WorkloadClass string

const (
	Interactive WorkloadClass = "interactive"
	Scheduled   WorkloadClass = "scheduled"
	Research    WorkloadClass = "research"
	Fabrication WorkloadClass = "fabrication"
)

var workloadRank = map[WorkloadClass]int{
	Interactive: 0,
	Scheduled:   1,
	Research:    2,
	Fabrication: 3,
}

func requiresIdle(class WorkloadClass) bool {
	return workloadRank[class] >= workloadRank[Scheduled]
}

// Snapshot is an instantaneous read of host resource usage.
type Snapshot struct {
	CPUPct  float64
	MemPct  float64
	IdleMin float64
}

// HostMetrics samples current host resource usage. The concrete
// implementation lives in internal/capability so this package stays
// free of platform-specific sampling code.
type HostMetrics interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// AdmissionDecision is the ResourceManager's verdict on whether a
// workload may run now.
type AdmissionDecision struct {
	Allow  bool
	Reason string
}

// Limits are the admission thresholds, read from config.
type Limits struct {
	DailyBudgetUSD  float64
	IdleThresholdMin float64
	CPUCeilingPct   float64
	MemCeilingPct   float64
}

// Manager is the ResourceManager: it never blocks a caller, and a
// denial simply means the caller should retry on its own schedule (the
// Scheduler's next tick, or the executor's next claim attempt).
type Manager struct {
	store   *store.Store
	clock   clock.Clock
	metrics HostMetrics
	limits  Limits
	cache   *cache.Cache
}

const snapshotCacheKey = "host_snapshot"

// New constructs a Manager. metricsCacheTTL bounds how often HostMetrics
// is actually sampled; repeated admission checks within the same tick
// reuse the cached snapshot instead of re-reading /proc on every call.
func New(st *store.Store, c clock.Clock, metrics HostMetrics, limits Limits, metricsCacheTTL time.Duration) *Manager {
	return &Manager{
		store:   st,
		clock:   c,
		metrics: metrics,
		limits:  limits,
		cache:   cache.New(metricsCacheTTL, 2*metricsCacheTTL),
	}
}

// Admit evaluates the conjunction of budget, idle, and CPU/mem gates
// for the given workload class. It never returns an error: a failure to
// read a gate is treated as a denial with the failure as the reason, so
// callers never have to special-case "the controller itself is
// unhealthy" differently from "the controller said no".
func (m *Manager) Admit(ctx context.Context, class WorkloadClass) AdmissionDecision {
	spent, err := m.todaySpend(ctx)
	if err != nil {
		return AdmissionDecision{Allow: false, Reason: fmt.Sprintf("budget check failed: %v", err)}
	}
	if spent >= m.limits.DailyBudgetUSD {
		return AdmissionDecision{Allow: false, Reason: fmt.Sprintf("daily budget exhausted: %.2f/%.2f", spent, m.limits.DailyBudgetUSD)}
	}

	snap, err := m.snapshot(ctx)
	if err != nil {
		return AdmissionDecision{Allow: false, Reason: fmt.Sprintf("host metrics unavailable: %v", err)}
	}

	if requiresIdle(class) && snap.IdleMin < m.limits.IdleThresholdMin {
		return AdmissionDecision{Allow: false, Reason: fmt.Sprintf("host idle %.1fm below threshold %.1fm", snap.IdleMin, m.limits.IdleThresholdMin)}
	}
	if snap.CPUPct > m.limits.CPUCeilingPct {
		return AdmissionDecision{Allow: false, Reason: fmt.Sprintf("cpu %.1f%% over ceiling %.1f%%", snap.CPUPct, m.limits.CPUCeilingPct)}
	}
	if snap.MemPct > m.limits.MemCeilingPct {
		return AdmissionDecision{Allow: false, Reason: fmt.Sprintf("mem %.1f%% over ceiling %.1f%%", snap.MemPct, m.limits.MemCeilingPct)}
	}

	return AdmissionDecision{Allow: true}
}

func (m *Manager) todaySpend(ctx context.Context) (float64, error) {
	startOfDay := m.clock.Now().UTC().Truncate(24 * time.Hour)
	total, err := m.store.SpendSince(ctx, startOfDay)
	if err != nil {
		return 0, err
	}
	f, _ := total.Float64()
	return f, nil
}

func (m *Manager) snapshot(ctx context.Context) (Snapshot, error) {
	if v, ok := m.cache.Get(snapshotCacheKey); ok {
		return v.(Snapshot), nil
	}
	snap, err := m.metrics.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	m.cache.SetDefault(snapshotCacheKey, snap)
	return snap, nil
}
