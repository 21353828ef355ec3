package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/encoder"
)

// ErrEmptyCorpus is returned when an operation needs cases and there are none.
var ErrEmptyCorpus = errors.New("corpus is empty")

// Service keeps the repository and the neighbour index in step.
// Corpus mutations are serialized.
type Service struct {
	mu sync.Mutex

	repo      domain.Repository
	index     domain.NeighborIndex
	bus       domain.EventBus
	batchSize int
	seed      func() int64
}

// Option configures a Service.
type Option func(*Service)

// WithEventBus publishes corpus.changed events.
func WithEventBus(b domain.EventBus) Option {
	return func(s *Service) { s.bus = b }
}

// WithBatchSize sets the index upsert chunk size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSeed fixes the synthetic generator seed.
func WithSeed(seed int64) Option {
	return func(s *Service) { s.seed = func() int64 { return seed } }
}

// NewService creates an ingestion service.
func NewService(repo domain.Repository, index domain.NeighborIndex, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		index:     index,
		batchSize: 500,
		seed:      func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImportResult reports how many cases were stored and indexed.
type ImportResult struct {
	Imported int `json:"imported_count"`
	Indexed  int `json:"indexed_count"`
	Skipped  int `json:"skipped_rows"`
}

// Import saves cases and writes their vectors to the index.
func (s *Service) Import(ctx context.Context, cases []*domain.HistoricalCase) (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importCases(ctx, cases, domain.CorpusImported)
}

func (s *Service) importCases(ctx context.Context, cases []*domain.HistoricalCase, action string) (*ImportResult, error) {
	if len(cases) == 0 {
		return nil, ErrEmptyCorpus
	}
	start := time.Now()

	if err := s.repo.SaveCases(ctx, cases); err != nil {
		return nil, fmt.Errorf("failed to save cases: %w", err)
	}
	res := &ImportResult{Imported: len(cases)}

	indexed, err := s.indexCases(ctx, cases)
	res.Indexed = indexed
	if err != nil {
		return res, err
	}

	s.publish(ctx, action, len(cases))

	slog.Info("corpus imported",
		"action", action,
		"cases", res.Imported,
		"indexed", res.Indexed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) indexCases(ctx context.Context, cases []*domain.HistoricalCase) (int, error) {
	if _, err := s.index.EnsureCollection(ctx); err != nil {
		return 0, fmt.Errorf("failed to prepare index: %w", err)
	}

	points := toPoints(cases)
	n, err := s.index.BatchUpsert(ctx, points, s.batchSize)
	if err != nil {
		return n, fmt.Errorf("indexed %d of %d cases: %w", n, len(points), err)
	}
	return n, nil
}

func toPoints(cases []*domain.HistoricalCase) []domain.Point {
	points := make([]domain.Point, len(cases))
	for i, c := range cases {
		points[i] = domain.Point{
			ID:     c.ApplicationID,
			Vector: encoder.Encode(&c.ApplicationRecord),
			Case:   c,
		}
	}
	return points
}

// Reset replaces the corpus with n synthetic cases. The index swaps to the
// new corpus in one step, so queries never see it empty or half loaded.
func (s *Service) Reset(ctx context.Context, n int) (*ImportResult, error) {
	if n <= 0 {
		n = DefaultSyntheticCount
	}
	cases := NewGenerator(s.seed()).Generate(n)
	points := toPoints(cases)

	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	if _, err := s.repo.ReplaceCases(ctx, cases); err != nil {
		return nil, fmt.Errorf("failed to replace cases: %w", err)
	}
	res := &ImportResult{Imported: len(cases)}

	indexed, err := s.index.Replace(ctx, points, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to replace index: %w", err)
	}
	res.Indexed = indexed

	s.publish(ctx, domain.CorpusReset, len(cases))

	slog.Info("corpus reset",
		"cases", res.Imported,
		"indexed", res.Indexed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Clear removes every case and drops the index collection.
func (s *Service) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.clear(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, domain.CorpusCleared, 0)
	slog.Info("corpus cleared", "cases", n)
	return n, nil
}

func (s *Service) clear(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteCases(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cases: %w", err)
	}
	if _, err := s.index.DeleteAll(ctx); err != nil {
		return n, fmt.Errorf("failed to drop index: %w", err)
	}
	return n, nil
}

// Export writes the whole corpus as CSV.
func (s *Service) Export(ctx context.Context, w io.Writer) (int, error) {
	cases, err := s.repo.ListCases(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list cases: %w", err)
	}
	if len(cases) == 0 {
		return 0, ErrEmptyCorpus
	}
	if err := WriteCSV(w, cases); err != nil {
		return 0, err
	}
	return len(cases), nil
}

// Sample returns up to n random cases.
func (s *Service) Sample(ctx context.Context, n int) ([]*domain.HistoricalCase, error) {
	return s.repo.SampleCases(ctx, n)
}

// Stats aggregates the corpus.
func (s *Service) Stats(ctx context.Context) (*domain.CorpusStats, error) {
	return s.repo.CorpusStats(ctx)
}

// Hydrate rebuilds the index from the repository when the index holds fewer
// points than the repository has cases. It returns the number indexed.
func (s *Service) Hydrate(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.repo.CountCases(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	stats, err := s.index.Stats(ctx)
	if err == nil && stats.Exists && stats.Count >= total {
		slog.Debug("index already hydrated", "points", stats.Count)
		return 0, nil
	}

	cases, err := s.repo.ListCases(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list cases: %w", err)
	}
	n, err := s.indexCases(ctx, cases)
	if err != nil {
		return n, err
	}

	slog.Info("index hydrated", "points", n)
	return n, nil
}

func (s *Service) publish(ctx context.Context, action string, count int) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(domain.CorpusChanged{Action: action, Count: count})
	if err := s.bus.Publish(ctx, domain.TopicCorpusChanged, payload); err != nil {
		slog.Warn("failed to publish corpus change",
			"action", action,
			"error", err,
		)
	}
}
