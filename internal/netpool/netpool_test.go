package netpool

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

func TestRegistry_GetReturnsSamePoolForSameName(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	cfg := PoolConfig{MaxConn: 4, FailureThreshold: 3, RecoveryTimeout: time.Second}

	a := reg.Get("kb-search", cfg)
	b := reg.Get("kb-search", cfg)
	if a != b {
		t.Error("expected Get to return the same pool instance for the same name")
	}
}

func TestPool_Do_OpensBreakerAfterConsecutiveFailures(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	// No server is listening on this address, so every request fails at
	// the transport level with a connection error gobreaker can count.
	pool := reg.Get("unreachable", PoolConfig{
		BaseURL: "http://127.0.0.1:1", MaxConn: 2, FailureThreshold: 2, RecoveryTimeout: time.Minute,
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, pool.baseURL, nil)
		if _, err := pool.Do(req); err == nil {
			t.Fatal("expected connection failure against an unreachable host")
		}
	}

	if pool.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open after %d consecutive failures, got %v", 2, pool.State())
	}

	req, _ := http.NewRequest(http.MethodGet, pool.baseURL, nil)
	if _, err := pool.Do(req); err == nil {
		t.Fatal("expected fast-fail once breaker is open")
	}
}
