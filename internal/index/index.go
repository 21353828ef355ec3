// Package index provides neighbour indexes over historical case vectors.
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// New creates a neighbour index based on configuration.
func New(cfg domain.IndexConfig) (domain.NeighborIndex, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryIndex(), nil
	case "bolt":
		return NewBoltIndex(cfg.BoltPath, cfg.Collection)
	case "pgvector":
		return NewPGVectorIndex(cfg.PostgresURL, cfg.Collection, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unsupported index type: %s", cfg.Type)
	}
}

func checkVector(vector []float64) error {
	if len(vector) != domain.Dimension {
		return domain.NewValidationError(
			fmt.Sprintf("vector has %d dimensions, expected %d", len(vector), domain.Dimension), nil)
	}
	return nil
}

func checkQuery(vector []float64, topK int, filters []domain.Filter) error {
	if err := checkVector(vector); err != nil {
		return err
	}
	if topK < 1 {
		return domain.NewValidationError(fmt.Sprintf("topK must be at least 1, got %d", topK), nil)
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func checkPoints(points []domain.Point) error {
	for _, p := range points {
		if p.ID == "" {
			return domain.NewValidationError("point id is required", nil)
		}
		if err := checkVector(p.Vector); err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
	}
	return nil
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b given their norms.
// A zero-norm operand yields 0.
func cosine(a []float64, aNorm float64, b []float64, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (aNorm * bNorm)
}

func matchAll(c *domain.HistoricalCase, filters []domain.Filter) bool {
	for _, f := range filters {
		if !f.Match(c) {
			return false
		}
	}
	return true
}

// entry is a stored vector with its precomputed norm.
type entry struct {
	id     string
	vector []float64
	norm   float64
	c      *domain.HistoricalCase
}

// corpus is an insertion-ordered set of entries. Callers provide locking.
type corpus struct {
	entries []*entry
	byID    map[string]int
}

func newCorpus() *corpus {
	return &corpus{byID: make(map[string]int)}
}

func (c *corpus) put(id string, vector []float64, hc *domain.HistoricalCase) {
	v := make([]float64, len(vector))
	copy(v, vector)
	e := &entry{id: id, vector: v, norm: norm(v), c: hc}
	if i, ok := c.byID[id]; ok {
		c.entries[i] = e
		return
	}
	c.byID[id] = len(c.entries)
	c.entries = append(c.entries, e)
}

func (c *corpus) len() int {
	return len(c.entries)
}

// query scores every entry, applies filters and keeps the best topK.
// The sort is stable so equal scores keep insertion order.
func (c *corpus) query(vector []float64, topK int, filters []domain.Filter) []domain.Neighbor {
	qNorm := norm(vector)
	hits := make([]domain.Neighbor, 0, len(c.entries))
	for _, e := range c.entries {
		if !matchAll(e.c, filters) {
			continue
		}
		hits = append(hits, domain.Neighbor{
			ID:    e.id,
			Score: cosine(vector, qNorm, e.vector, e.norm),
			Case:  e.c,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
