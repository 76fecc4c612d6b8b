package opportunity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/store"
)

// Fixed factor values for a missing knowledge-base entry: the gap
// itself and the strategic value of filling it are treated as uniformly
// high regardless of which entry is missing; frequency and severity
// carry a moderate baseline reflecting that most gaps matter somewhat
// without claiming to measure exactly how often each is hit.
const (
	knowledgeGapFrequencyBaseline = 0.6
	knowledgeGapSeverityBaseline  = 0.7
	knowledgeGapFactor            = 1.0
	knowledgeGapStrategicValue    = 0.9
)

// KnowledgeGap checks a configured set of expected knowledge-base
// entries against the store and emits a research goal for each one
// still missing.
type KnowledgeGap struct {
	store *store.Store
	cfg   config.Opportunity
}

func NewKnowledgeGap(st *store.Store, cfg config.Opportunity) *KnowledgeGap {
	return &KnowledgeGap{store: st, cfg: cfg}
}

func (s *KnowledgeGap) Name() string { return "knowledge_gap" }

func (s *KnowledgeGap) Detect(ctx context.Context, window time.Duration) ([]Candidate, error) {
	var candidates []Candidate
	for _, expected := range s.cfg.ExpectedKnowledge {
		category, slug, ok := splitExpectedKnowledge(expected)
		if !ok {
			continue
		}

		_, err := s.store.GetKnowledgeEntry(ctx, category, slug)
		if err == nil {
			continue // entry exists, no gap
		}
		var ae *apperr.Error
		if !errors.As(err, &ae) || ae.Kind != apperr.NotFound {
			return nil, fmt.Errorf("knowledge gap: check %s/%s: %w", category, slug, err)
		}

		candidates = append(candidates, Candidate{
			Kind:        "research",
			Description: fmt.Sprintf("Knowledge-base gap: %s/%s", category, slug),
			Rationale:   fmt.Sprintf("no knowledge-base entry exists for expected topic %s/%s", category, slug),
			SourceTag:   "knowledge_gap",
			Discriminator: category + "/" + slug,
			Metadata: map[string]string{
				"category": category,
				"material": slug,
			},
			EstimatedBudgetUSD: decimal.NewFromFloat(15),
			EstimatedDurationH: 6,
			Factors: Factors{
				Frequency:      knowledgeGapFrequencyBaseline,
				Severity:       knowledgeGapSeverityBaseline,
				CostSavings:    0,
				KnowledgeGap:   knowledgeGapFactor,
				StrategicValue: knowledgeGapStrategicValue,
			},
		})
	}
	return candidates, nil
}

func splitExpectedKnowledge(expected string) (category, slug string, ok bool) {
	parts := strings.SplitN(expected, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
