// Package netpool is the process-wide registry of named connection
// pools to external upstreams, each guarded by its own circuit breaker.
package netpool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/forgecore/autonomy/internal/apperr"
)

// PoolConfig configures one named pool.
type PoolConfig struct {
	BaseURL          string
	MaxConn          int
	KeepAlive        time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HealthInterval   time.Duration
}

// Pool wraps an *http.Client for one upstream endpoint with a circuit
// breaker in front of every call.
type Pool struct {
	name    string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	healthy bool
	mu      sync.RWMutex
	stop    chan struct{}
}

// Registry is the process-wide, lazily-populated set of named pools.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool

	breakerState *prometheus.GaugeVec
}

// stateValue maps gobreaker's State to the gauge value convention used
// on /metrics: 0 closed, 1 half-open, 2 open.
func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// NewRegistry constructs an empty registry and registers its breaker-
// state gauge with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forgecore_pool_breaker_state",
		Help: "Circuit breaker state per pool: 0=closed 1=half-open 2=open.",
	}, []string{"pool"})
	if reg != nil {
		reg.MustRegister(gauge)
	}
	return &Registry{pools: make(map[string]*Pool), breakerState: gauge}
}

// Get returns the named pool, creating it from cfg on first use.
func (r *Registry) Get(name string, cfg PoolConfig) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[name]; ok {
		return p
	}

	p := &Pool{
		name:    name,
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxConnsPerHost:     cfg.MaxConn,
				MaxIdleConnsPerHost: cfg.MaxConn,
				IdleConnTimeout:     cfg.KeepAlive,
			},
		},
		healthy: true,
		stop:    make(chan struct{}),
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	p.breaker = gobreaker.NewCircuitBreaker(settings)
	r.breakerState.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))

	if cfg.HealthInterval > 0 {
		go p.runHealthProbe(cfg.HealthInterval)
	}

	r.pools[name] = p
	return p
}

// Do executes req through the pool's breaker, translating an open
// breaker into apperr.UpstreamUnavailable so callers don't need to know
// about gobreaker.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	resp, err := p.breaker.Execute(func() (any, error) {
		return p.client.Do(req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Wrap(apperr.UpstreamUnavailable, err, "pool %s circuit open", p.name)
		}
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, err, "pool %s request failed", p.name)
	}
	return resp.(*http.Response), nil
}

// State reports the current breaker state for /health.
func (p *Pool) State() gobreaker.State { return p.breaker.State() }

// PoolHealth is one pool's /health snapshot.
type PoolHealth struct {
	Name    string
	State   string
	Healthy bool
}

// Snapshot reports every registered pool's breaker state and last probe
// result, for the /health endpoint's per-pool breakdown.
func (r *Registry) Snapshot() []PoolHealth {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	out := make([]PoolHealth, 0, len(pools))
	for _, p := range pools {
		out = append(out, PoolHealth{Name: p.name, State: p.State().String(), Healthy: p.Healthy()})
	}
	return out
}

// Healthy reports the result of the most recent background health probe.
func (p *Pool) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

func (p *Pool) runHealthProbe(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.probe()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	ok := err == nil
	if ok {
		resp, doErr := p.client.Do(req)
		ok = doErr == nil
		if resp != nil {
			resp.Body.Close()
		}
	}

	p.mu.Lock()
	p.healthy = ok
	p.mu.Unlock()
}

// Close stops the pool's background health probe.
func (p *Pool) Close() {
	close(p.stop)
}

// String reports the endpoint this pool targets, used in error messages
// and the /health summary.
func (p *Pool) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.baseURL)
}

// BaseURL reports the pool's configured upstream endpoint, so a
// capability adapter built on a relative path can resolve it to a full
// request URL before calling Do.
func (p *Pool) BaseURL() string {
	return p.baseURL
}
