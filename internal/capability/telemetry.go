package capability

import (
	"context"
	"time"

	"github.com/forgecore/autonomy/internal/store"
)

// StoreTelemetry adapts *store.Store's operational-event log to the
// Telemetry interface, so the opportunity detector's strategies depend
// on a capability rather than the store directly.
type StoreTelemetry struct {
	store *store.Store
}

func NewStoreTelemetry(st *store.Store) *StoreTelemetry {
	return &StoreTelemetry{store: st}
}

func (t *StoreTelemetry) OperationalHistory(ctx context.Context, kind string, since time.Time) ([]OperationalEvent, error) {
	events, err := t.store.OperationalEventsSince(ctx, kind, since)
	if err != nil {
		return nil, err
	}
	out := make([]OperationalEvent, len(events))
	for i, e := range events {
		cost, _ := e.CostUSD.Float64()
		out[i] = OperationalEvent{Kind: e.Kind, Reason: e.Reason, Tier: e.Tier, CostUSD: cost}
	}
	return out, nil
}
