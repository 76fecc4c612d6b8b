package opportunity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/feedback"
	"github.com/forgecore/autonomy/internal/store"
)

// Detector runs the registered strategies over the lookback window,
// scores and filters their candidates, and persists survivors as newly
// identified goals.
type Detector struct {
	log        *slog.Logger
	store      *store.Store
	feedback   *feedback.Loop
	strategies []Strategy
	cfg        config.Opportunity
}

// New builds a Detector with the three standard strategies. Strategies
// are a static slice built once at construction — no registry, no
// dynamic dispatch beyond the Strategy interface itself.
func New(log *slog.Logger, c clock.Clock, st *store.Store, fl *feedback.Loop, cfg config.Opportunity) *Detector {
	return &Detector{
		log:   log,
		store: st,
		feedback: fl,
		strategies: []Strategy{
			NewFailurePattern(st, c, cfg),
			NewKnowledgeGap(st, cfg),
			NewCostOptimization(st, c, cfg),
		},
		cfg: cfg,
	}
}

// Cycle runs every strategy, scores and deduplicates the results, and
// persists surviving candidates as identified goals. It returns the
// newly persisted goals ordered by the tie-break rule: higher impact
// score, then older identified_at, then lexicographic id.
func (d *Detector) Cycle(ctx context.Context) ([]store.Goal, error) {
	window := time.Duration(d.cfg.LookbackDays) * 24 * time.Hour
	w := weights{
		Frequency:      d.cfg.Weights.Frequency,
		Severity:       d.cfg.Weights.Severity,
		CostSavings:    d.cfg.Weights.CostSavings,
		KnowledgeGap:   d.cfg.Weights.KnowledgeGap,
		StrategicValue: d.cfg.Weights.StrategicValue,
	}

	var persisted []store.Goal
	for _, strat := range d.strategies {
		candidates, err := strat.Detect(ctx, window)
		if err != nil {
			d.log.Error("opportunity: strategy failed", "strategy", strat.Name(), "err", err)
			continue
		}

		for _, c := range candidates {
			score := impactScore(c.Factors, w)

			if d.feedback != nil {
				adj, err := d.feedback.Adjustment(ctx, c.Kind)
				if err != nil {
					d.log.Warn("opportunity: feedback adjustment failed, using 1.0", "kind", c.Kind, "err", err)
					adj = 1.0
				}
				score *= adj
				if score > 100 {
					score = 100
				}
			}

			if score < d.cfg.MinImpactScore {
				continue
			}

			dup, err := d.isDuplicate(ctx, c)
			if err != nil {
				return persisted, fmt.Errorf("opportunity: dedup check: %w", err)
			}
			if dup {
				continue
			}

			metaWithDiscriminator := make(map[string]string, len(c.Metadata)+1)
			for k, v := range c.Metadata {
				metaWithDiscriminator[k] = v
			}
			metaWithDiscriminator[discriminatorMetaKey] = c.Discriminator

			meta, err := json.Marshal(metaWithDiscriminator)
			if err != nil {
				return persisted, fmt.Errorf("opportunity: marshal metadata: %w", err)
			}

			g, err := d.store.InsertGoal(ctx, store.Goal{
				Kind:               c.Kind,
				Description:        c.Description,
				Rationale:          c.Rationale,
				EstimatedBudgetUSD:  c.EstimatedBudgetUSD,
				EstimatedDurationH: c.EstimatedDurationH,
				ImpactScore:        score,
				SourceTag:          c.SourceTag,
				Metadata:           string(meta),
				LearnFrom:          true,
			})
			if err != nil {
				return persisted, fmt.Errorf("opportunity: insert goal: %w", err)
			}
			persisted = append(persisted, g)
		}
	}

	sort.SliceStable(persisted, func(i, j int) bool {
		a, b := persisted[i], persisted[j]
		if a.ImpactScore != b.ImpactScore {
			return a.ImpactScore > b.ImpactScore
		}
		if !a.IdentifiedAt.Equal(b.IdentifiedAt) {
			return a.IdentifiedAt.Before(b.IdentifiedAt)
		}
		return a.ID < b.ID
	})
	return persisted, nil
}

// discriminatorMetaKey stashes a candidate's Discriminator inside the
// persisted metadata blob, since goals have no dedicated discriminator
// column; dedup reads it back out on the next cycle.
const discriminatorMetaKey = "_discriminator"

// isDuplicate checks whether an existing non-terminal goal already
// carries this candidate's source_tag + discriminator.
func (d *Detector) isDuplicate(ctx context.Context, c Candidate) (bool, error) {
	existing, err := d.store.ListNonTerminalGoalsBySourceTag(ctx, c.SourceTag)
	if err != nil {
		return false, err
	}
	for _, g := range existing {
		var meta map[string]string
		if err := json.Unmarshal([]byte(g.Metadata), &meta); err != nil {
			continue
		}
		if meta[discriminatorMetaKey] == c.Discriminator {
			return true, nil
		}
	}
	return false, nil
}
