package domain

import (
	"context"
	"fmt"
)

// Dimension is the length of every feature vector.
const Dimension = 50

// MetricCosine is the only similarity metric supported by neighbour indexes.
const MetricCosine = "cosine"

// Neighbor is a scored query hit. It lives only for one evaluation.
type Neighbor struct {
	ID    string          `json:"id"`
	Score float64         `json:"score"`
	Case  *HistoricalCase `json:"case"`
}

// FilterOp is a comparison operator for neighbour filters.
type FilterOp string

const (
	OpGTE FilterOp = "$gte"
	OpLTE FilterOp = "$lte"
	OpGT  FilterOp = "$gt"
	OpLT  FilterOp = "$lt"
	OpEQ  FilterOp = "$eq"
)

// Filter restricts query hits on one case field. A filter list is a conjunction.
// Numeric fields compare Value; text fields compare Text with $eq only.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value float64  `json:"value"`
	Text  string   `json:"text,omitempty"`
}

// Validate checks the field against the filterable sets and the operator.
func (f Filter) Validate() error {
	if TextFilterFields[f.Field] {
		if f.Op != OpEQ {
			return NewValidationError(fmt.Sprintf("field %q only supports %s", f.Field, OpEQ), nil)
		}
		return nil
	}
	if !FilterableFields[f.Field] {
		return NewValidationError(fmt.Sprintf("field %q is not filterable", f.Field), nil)
	}
	switch f.Op {
	case OpGTE, OpLTE, OpGT, OpLT, OpEQ:
		return nil
	}
	return NewValidationError(fmt.Sprintf("unsupported filter operator %q", f.Op), nil)
}

// Match reports whether the case satisfies the filter.
// Cases lacking the field never match.
func (f Filter) Match(c *HistoricalCase) bool {
	if TextFilterFields[f.Field] {
		s, ok := c.FieldText(f.Field)
		return ok && f.Op == OpEQ && s == f.Text
	}
	v, ok := c.FieldValue(f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpGTE:
		return v >= f.Value
	case OpLTE:
		return v <= f.Value
	case OpGT:
		return v > f.Value
	case OpLT:
		return v < f.Value
	case OpEQ:
		return v == f.Value
	}
	return false
}

// Point is a vector and its payload, ready to be written to an index.
type Point struct {
	ID     string
	Vector []float64
	Case   *HistoricalCase
}

// IndexStats describes the state of a neighbour index.
type IndexStats struct {
	Exists    bool   `json:"exists"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

// NeighborIndex stores historical case vectors and answers top-k queries.
// Implementations must be safe for concurrent use.
type NeighborIndex interface {
	// EnsureCollection creates the collection if missing.
	EnsureCollection(ctx context.Context) (bool, error)

	// Upsert inserts or overwrites one point.
	Upsert(ctx context.Context, id string, vector []float64, c *HistoricalCase) error

	// BatchUpsert writes points in ordered chunks, each committed independently.
	// It returns the number of points committed, including on error.
	BatchUpsert(ctx context.Context, points []Point, batchSize int) (int, error)

	// Replace swaps the whole collection for points, creating it if missing.
	// Queries see either the previous corpus or the complete new one.
	Replace(ctx context.Context, points []Point, batchSize int) (int, error)

	// Query returns at most topK hits sorted by descending similarity.
	Query(ctx context.Context, vector []float64, topK int, filters []Filter) ([]Neighbor, error)

	// DeleteAll drops the collection. It reports whether one existed.
	DeleteAll(ctx context.Context) (bool, error)

	Stats(ctx context.Context) (IndexStats, error)

	Close() error
}

// IndexConfig holds configuration for neighbour index initialization.
type IndexConfig struct {
	// Type is the index backing: "memory", "bolt" or "pgvector"
	Type string `json:"type" mapstructure:"type"`

	Collection string `json:"collection" mapstructure:"collection"`
	BatchSize  int    `json:"batchSize" mapstructure:"batch_size"`

	// Bolt specific
	BoltPath string `json:"boltPath" mapstructure:"bolt_path"`

	// pgvector specific
	PostgresURL string `json:"postgresUrl" mapstructure:"postgres_url"`
	MaxConns    int32  `json:"maxConns" mapstructure:"max_conns"`
}
