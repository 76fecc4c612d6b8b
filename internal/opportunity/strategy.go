// Package opportunity runs the detector strategies that read operational
// history and knowledge-store state and emit scored Goal candidates.
package opportunity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Factors are the five normalised [0,1] inputs to the impact score.
type Factors struct {
	Frequency      float64
	Severity       float64
	CostSavings    float64
	KnowledgeGap   float64
	StrategicValue float64
}

// Candidate is a not-yet-persisted opportunity a strategy has surfaced.
type Candidate struct {
	Kind               string
	Description        string
	Rationale          string
	SourceTag          string
	Discriminator      string // combined with SourceTag for dedup against existing goals
	Metadata           map[string]string
	EstimatedBudgetUSD decimal.Decimal
	EstimatedDurationH float64
	Factors            Factors
}

// Strategy reads operational history over a lookback window and emits
// candidate goals. Strategies are dispatched from a static slice built
// at startup — no inheritance, no shared base type.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, window time.Duration) ([]Candidate, error)
}
