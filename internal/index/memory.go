package index

import (
	"context"
	"sync"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// MemoryIndex is a brute-force in-process index.
// Queries share the read lock; mutations take the write lock.
type MemoryIndex struct {
	mu     sync.RWMutex
	exists bool
	data   *corpus
}

// NewMemoryIndex creates an empty index with no collection.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{data: newCorpus()}
}

// EnsureCollection creates the collection if missing.
func (m *MemoryIndex) EnsureCollection(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exists {
		return false, nil
	}
	m.exists = true
	m.data = newCorpus()
	return true, nil
}

// Upsert inserts or overwrites one point.
func (m *MemoryIndex) Upsert(ctx context.Context, id string, vector []float64, c *domain.HistoricalCase) error {
	if err := checkPoints([]domain.Point{{ID: id, Vector: vector, Case: c}}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return domain.NewNotReadyError("collection does not exist", nil)
	}
	m.data.put(id, vector, c)
	return nil
}

// BatchUpsert writes points chunk by chunk. A chunk is validated as a whole
// and becomes visible to queries only once it is applied.
func (m *MemoryIndex) BatchUpsert(ctx context.Context, points []domain.Point, batchSize int) (int, error) {
	return writeBatches(ctx, points, batchSize, m.commit)
}

func (m *MemoryIndex) commit(ctx context.Context, chunk []domain.Point) error {
	if err := checkPoints(chunk); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return domain.NewNotReadyError("collection does not exist", nil)
	}
	for _, p := range chunk {
		m.data.put(p.ID, p.Vector, p.Case)
	}
	return nil
}

// Replace builds the new corpus outside the lock and swaps it in.
func (m *MemoryIndex) Replace(ctx context.Context, points []domain.Point, batchSize int) (int, error) {
	next, err := buildCorpus(ctx, points)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	m.data = next
	return next.len(), nil
}

// Query returns at most topK hits by descending cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, vector []float64, topK int, filters []domain.Filter) ([]domain.Neighbor, error) {
	if err := checkQuery(vector, topK, filters); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.exists {
		return nil, domain.NewNotReadyError("collection does not exist", nil)
	}
	return m.data.query(vector, topK, filters), nil
}

// DeleteAll drops the collection.
func (m *MemoryIndex) DeleteAll(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed := m.exists
	m.exists = false
	m.data = newCorpus()
	return existed, nil
}

// Stats returns the index state.
func (m *MemoryIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return domain.IndexStats{
		Exists:    m.exists,
		Count:     m.data.len(),
		Dimension: domain.Dimension,
		Metric:    domain.MetricCosine,
	}, nil
}

// Close releases the corpus.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newCorpus()
	return nil
}

// buildCorpus validates points and loads them into a detached corpus.
func buildCorpus(ctx context.Context, points []domain.Point) (*corpus, error) {
	if err := checkPoints(points); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := newCorpus()
	for _, p := range points {
		next.put(p.ID, p.Vector, p.Case)
	}
	return next, nil
}

// writeBatches splits points into ordered chunks and commits each in turn.
// On failure it reports how many points earlier chunks committed.
func writeBatches(ctx context.Context, points []domain.Point, batchSize int, commit func(context.Context, []domain.Point) error) (int, error) {
	if batchSize <= 0 {
		batchSize = len(points)
	}
	written := 0
	for start := 0; start < len(points); start += batchSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+batchSize, len(points))
		if err := commit(ctx, points[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}
