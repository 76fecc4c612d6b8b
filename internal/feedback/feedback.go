// Package feedback closes the loop between measured goal outcomes and
// future opportunity scoring: goal kinds whose past outcomes ran hot
// get a scoring boost, kinds that underdelivered get throttled back.
package feedback

import (
	"context"
	"fmt"

	"github.com/forgecore/autonomy/internal/store"
)

// Config bounds the rolling window and the adjustment's clamp range.
type Config struct {
	WindowSamples int
	MinSamples    int
	Pivot         float64
	MinAdjustment float64
	MaxAdjustment float64
}

// Loop computes a per-goal-kind adjustment factor from the rolling mean
// of recorded effectiveness scores.
type Loop struct {
	store *store.Store
	cfg   Config
}

func New(st *store.Store, cfg Config) *Loop {
	return &Loop{store: st, cfg: cfg}
}

// Adjustment returns the multiplier the opportunity detector applies to
// a freshly scored candidate of the given goal kind. It returns 1.0
// (no adjustment) until at least MinSamples outcomes are on record.
func (l *Loop) Adjustment(ctx context.Context, kind string) (float64, error) {
	outcomes, err := l.store.ListOutcomesForStrategy(ctx, kind, l.cfg.WindowSamples)
	if err != nil {
		return 1.0, fmt.Errorf("list outcomes for %s: %w", kind, err)
	}
	if len(outcomes) < l.cfg.MinSamples {
		return 1.0, nil
	}

	var sum float64
	for _, o := range outcomes {
		sum += o.EffectivenessScore
	}
	mean := sum / float64(len(outcomes))

	return adjustment(mean, l.cfg.Pivot, l.cfg.MinAdjustment, l.cfg.MaxAdjustment), nil
}

// adjustment is the pure linear-clamp function: 1.0 when mean equals
// pivot, scaling proportionally to the ratio of mean to pivot on either
// side, clamped to [min, max].
func adjustment(mean, pivot, lo, hi float64) float64 {
	if pivot <= 0 {
		return 1.0
	}
	f := mean / pivot
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
