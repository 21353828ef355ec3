// Package anomaly scores how atypical an application is relative to its neighbours.
package anomaly

import (
	"math"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// Config holds the anomaly thresholds.
type Config struct {
	// MinNeighbors below which the cohort is too thin to trust
	MinNeighbors int

	// FraudFlagCount fraud-suspect neighbours within the first FraudWindow trigger the fraud path
	FraudFlagCount int
	FraudWindow    int

	// NearIdentity mean similarity above which the application duplicates known cases
	NearIdentity float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinNeighbors:   10,
		FraudFlagCount: 5,
		FraudWindow:    20,
		NearIdentity:   0.999,
	}
}

// ConfigFromPolicy reads the anomaly thresholds out of the policy configuration.
func ConfigFromPolicy(p domain.PolicyConfig) Config {
	cfg := DefaultConfig()
	if p.MinNeighbors > 0 {
		cfg.MinNeighbors = p.MinNeighbors
	}
	if p.FraudFlagCount > 0 {
		cfg.FraudFlagCount = p.FraudFlagCount
	}
	if p.FraudWindow > 0 {
		cfg.FraudWindow = p.FraudWindow
	}
	if p.NearIdentity > 0 {
		cfg.NearIdentity = p.NearIdentity
	}
	return cfg
}

// Assessment is the combined anomaly signal for one evaluation.
type Assessment struct {
	// Insufficient is set when fewer than MinNeighbors were found
	Insufficient bool    `json:"insufficient"`
	Neighbors    int     `json:"neighbors"`
	Score        float64 `json:"score"`

	// FraudFlagged is the number of fraud-suspect cases in the fraud window
	FraudFlagged int  `json:"fraud_flagged"`
	NearIdentity bool `json:"near_identity"`
	FraudSuspect bool `json:"fraud_suspect"`
}

// Scorer computes assessments.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer; zero fields fall back to defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = def.MinNeighbors
	}
	if cfg.FraudFlagCount <= 0 {
		cfg.FraudFlagCount = def.FraudFlagCount
	}
	if cfg.FraudWindow <= 0 {
		cfg.FraudWindow = def.FraudWindow
	}
	if cfg.NearIdentity <= 0 {
		cfg.NearIdentity = def.NearIdentity
	}
	return &Scorer{cfg: cfg}
}

// Config returns the effective thresholds.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Assess combines the volume, distribution and fraud signals.
// Neighbours must be sorted by descending similarity.
func (s *Scorer) Assess(neighbors []domain.Neighbor, stats domain.CohortStatistics) Assessment {
	a := Assessment{
		Neighbors:    len(neighbors),
		Insufficient: len(neighbors) < s.cfg.MinNeighbors,
		Score:        DistributionScore(neighbors),
	}

	for _, n := range neighbors[:min(s.cfg.FraudWindow, len(neighbors))] {
		if n.Case != nil && n.Case.IsFraudSuspect {
			a.FraudFlagged++
		}
	}
	a.NearIdentity = len(neighbors) > 0 && stats.AvgSimilarity > s.cfg.NearIdentity
	a.FraudSuspect = a.FraudFlagged >= s.cfg.FraudFlagCount || a.NearIdentity
	return a
}

// DistributionScore rates how atypical the similarity distribution is, in [0, 1].
// It weighs the distance to the best match, the decay over the first ten
// matches and the mean distance. No neighbours scores 1.
func DistributionScore(neighbors []domain.Neighbor) float64 {
	if len(neighbors) == 0 {
		return 1.0
	}

	top := neighbors[0].Score
	var sum float64
	for _, n := range neighbors {
		sum += n.Score
	}
	mean := sum / float64(len(neighbors))

	var decay float64
	if len(neighbors) >= 10 && top > 0 {
		decay = (top - neighbors[9].Score) / top
	}

	score := 0.4*(1-top) + 0.3*decay + 0.3*(1-mean)
	return math.Min(1, math.Max(0, score))
}
