package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// unit returns a Dimension-length vector with 1 at position i.
func unit(i int) []float64 {
	v := make([]float64, domain.Dimension)
	v[i] = 1
	return v
}

// blend returns a vector between axis 0 and axis 1; larger w is closer to axis 0.
func blend(w float64) []float64 {
	v := make([]float64, domain.Dimension)
	v[0] = w
	v[1] = 1 - w
	return v
}

func testCase(id string, amount float64, outcome domain.Outcome) *domain.HistoricalCase {
	return &domain.HistoricalCase{
		ApplicationRecord: domain.ApplicationRecord{RequestedAmount: domain.Float(amount)},
		ApplicationID:     id,
		Outcome:           outcome,
	}
}

func newTestIndexes(t *testing.T) map[string]domain.NeighborIndex {
	t.Helper()
	bolt, err := NewBoltIndex(filepath.Join(t.TempDir(), "index.db"), "test")
	if err != nil {
		t.Fatalf("failed to open bolt index: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })

	return map[string]domain.NeighborIndex{
		"memory": NewMemoryIndex(),
		"bolt":   bolt,
	}
}

func TestNotReadyBeforeCollection(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			_, err := idx.Query(ctx, unit(0), 5, nil)
			if !errors.Is(err, domain.ErrNotReady) {
				t.Errorf("expected ErrNotReady, got %v", err)
			}
			err = idx.Upsert(ctx, "a", unit(0), testCase("a", 1000, domain.OutcomeSuccess))
			if !errors.Is(err, domain.ErrNotReady) {
				t.Errorf("expected ErrNotReady on upsert, got %v", err)
			}
			stats, err := idx.Stats(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if stats.Exists {
				t.Error("expected collection not to exist")
			}
		})
	}
}

func TestEnsureCollection(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			created, err := idx.EnsureCollection(ctx)
			if err != nil || !created {
				t.Fatalf("expected created collection, got %v %v", created, err)
			}
			created, err = idx.EnsureCollection(ctx)
			if err != nil || created {
				t.Fatalf("expected existing collection, got %v %v", created, err)
			}
			stats, _ := idx.Stats(ctx)
			if !stats.Exists || stats.Dimension != domain.Dimension || stats.Metric != domain.MetricCosine {
				t.Errorf("unexpected stats: %+v", stats)
			}
		})
	}
}

func TestQueryOrdering(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.EnsureCollection(ctx)

			points := []domain.Point{
				{ID: "far", Vector: unit(1), Case: testCase("far", 1000, domain.OutcomeDefault)},
				{ID: "near", Vector: blend(0.9), Case: testCase("near", 1000, domain.OutcomeSuccess)},
				{ID: "exact", Vector: unit(0), Case: testCase("exact", 1000, domain.OutcomeSuccess)},
				{ID: "mid", Vector: blend(0.6), Case: testCase("mid", 1000, domain.OutcomeLatePayments)},
			}
			n, err := idx.BatchUpsert(ctx, points, 2)
			if err != nil || n != 4 {
				t.Fatalf("expected 4 written, got %d %v", n, err)
			}

			hits, err := idx.Query(ctx, unit(0), 3, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(hits) != 3 {
				t.Fatalf("expected 3 hits, got %d", len(hits))
			}
			want := []string{"exact", "near", "mid"}
			for i, id := range want {
				if hits[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, hits[i].ID)
				}
			}
			if hits[0].Score < 0.999999 {
				t.Errorf("expected exact match score 1, got %v", hits[0].Score)
			}
			for i := 1; i < len(hits); i++ {
				if hits[i].Score > hits[i-1].Score {
					t.Errorf("expected descending scores, got %v then %v", hits[i-1].Score, hits[i].Score)
				}
			}
			if hits[0].Case == nil || hits[0].Case.Outcome != domain.OutcomeSuccess {
				t.Errorf("expected payload on hit, got %+v", hits[0].Case)
			}
		})
	}
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.EnsureCollection(ctx)
			for i := 0; i < 5; i++ {
				id := fmt.Sprintf("twin-%d", i)
				if err := idx.Upsert(ctx, id, unit(0), testCase(id, 1000, domain.OutcomeSuccess)); err != nil {
					t.Fatalf("upsert failed: %v", err)
				}
			}
			hits, err := idx.Query(ctx, unit(0), 5, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, h := range hits {
				if h.ID != fmt.Sprintf("twin-%d", i) {
					t.Errorf("position %d: expected twin-%d, got %s", i, i, h.ID)
				}
			}
		})
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.EnsureCollection(ctx)
			amounts := []float64{5000, 9000, 10000, 13000, 20000}
			for i, amt := range amounts {
				id := fmt.Sprintf("c%d", i)
				idx.Upsert(ctx, id, unit(0), testCase(id, amt, domain.OutcomeSuccess))
			}

			filters := []domain.Filter{
				{Field: "requested_amount", Op: domain.OpGTE, Value: 7000},
				{Field: "requested_amount", Op: domain.OpLTE, Value: 13000},
			}
			hits, err := idx.Query(ctx, unit(0), 10, filters)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(hits) != 3 {
				t.Fatalf("expected 3 hits within band, got %d", len(hits))
			}
			for _, h := range hits {
				amt := domain.Value(h.Case.RequestedAmount)
				if amt < 7000 || amt > 13000 {
					t.Errorf("hit %s outside band: %v", h.ID, amt)
				}
			}

			idx.Upsert(ctx, "d0", unit(0), testCase("d0", 10000, domain.OutcomeDefault))
			hits, err = idx.Query(ctx, unit(0), 10, []domain.Filter{
				{Field: "outcome", Op: domain.OpEQ, Text: "default"},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(hits) != 1 || hits[0].ID != "d0" {
				t.Errorf("expected only d0 for outcome=default, got %+v", hits)
			}

			_, err = idx.Query(ctx, unit(0), 10, []domain.Filter{{Field: "secret", Op: domain.OpEQ, Value: 1}})
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error for unknown field, got %v", err)
			}
		})
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.EnsureCollection(ctx)

			err := idx.Upsert(ctx, "short", []float64{1, 2, 3}, testCase("short", 1, domain.OutcomeSuccess))
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error for short vector, got %v", err)
			}
			_, err = idx.Query(ctx, []float64{1}, 5, nil)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error for short query, got %v", err)
			}
			_, err = idx.Query(ctx, unit(0), 0, nil)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error for topK 0, got %v", err)
			}
		})
	}
}

func TestBatchUpsertPartialFailure(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.EnsureCollection(ctx)

			points := []domain.Point{
				{ID: "a", Vector: unit(0), Case: testCase("a", 1, domain.OutcomeSuccess)},
				{ID: "b", Vector: unit(1), Case: testCase("b", 1, domain.OutcomeSuccess)},
				{ID: "c", Vector: unit(2), Case: testCase("c", 1, domain.OutcomeSuccess)},
				{ID: "bad", Vector: []float64{1}, Case: testCase("bad", 1, domain.OutcomeSuccess)},
				{ID: "e", Vector: unit(3), Case: testCase("e", 1, domain.OutcomeSuccess)},
			}
			n, err := idx.BatchUpsert(ctx, points, 2)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if n != 2 {
				t.Errorf("expected 2 committed before failing chunk, got %d", n)
			}
			stats, _ := idx.Stats(ctx)
			if stats.Count != 2 {
				t.Errorf("expected 2 stored points, got %d", stats.Count)
			}
		})
	}
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.EnsureCollection(ctx)
			idx.Upsert(ctx, "x", unit(0), testCase("x", 1000, domain.OutcomeDefault))
			idx.Upsert(ctx, "x", unit(0), testCase("x", 1000, domain.OutcomeSuccess))

			stats, _ := idx.Stats(ctx)
			if stats.Count != 1 {
				t.Errorf("expected 1 point after overwrite, got %d", stats.Count)
			}
			hits, _ := idx.Query(ctx, unit(0), 1, nil)
			if len(hits) != 1 || hits[0].Case.Outcome != domain.OutcomeSuccess {
				t.Errorf("expected overwritten payload, got %+v", hits)
			}
		})
	}
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			existed, err := idx.DeleteAll(ctx)
			if err != nil || existed {
				t.Fatalf("expected no collection, got %v %v", existed, err)
			}

			idx.EnsureCollection(ctx)
			idx.Upsert(ctx, "x", unit(0), testCase("x", 1000, domain.OutcomeSuccess))

			existed, err = idx.DeleteAll(ctx)
			if err != nil || !existed {
				t.Fatalf("expected existing collection, got %v %v", existed, err)
			}
			_, err = idx.Query(ctx, unit(0), 1, nil)
			if !errors.Is(err, domain.ErrNotReady) {
				t.Errorf("expected ErrNotReady after delete, got %v", err)
			}

			existed, _ = idx.DeleteAll(ctx)
			if existed {
				t.Error("expected second delete to report no collection")
			}
		})
	}
}

func TestZeroVector(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.EnsureCollection(ctx)
	idx.Upsert(ctx, "zero", make([]float64, domain.Dimension), testCase("zero", 1, domain.OutcomeSuccess))

	hits, err := idx.Query(ctx, unit(0), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Score != 0 {
		t.Errorf("expected zero score for zero-norm vector, got %+v", hits)
	}
}

func TestConcurrentQueriesAndWrites(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.EnsureCollection(ctx)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				idx.Upsert(ctx, id, blend(float64(i)/50), testCase(id, 1000, domain.OutcomeSuccess))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := idx.Query(ctx, unit(0), 10, nil); err != nil {
					t.Errorf("unexpected query error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats, _ := idx.Stats(ctx)
	if stats.Count != 200 {
		t.Errorf("expected 200 points, got %d", stats.Count)
	}
}

func replacementPoints(prefix string, n int) []domain.Point {
	points := make([]domain.Point, n)
	for i := range points {
		id := fmt.Sprintf("%s-%d", prefix, i)
		points[i] = domain.Point{ID: id, Vector: blend(float64(i) / float64(n)), Case: testCase(id, 1000, domain.OutcomeSuccess)}
	}
	return points
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			n, err := idx.Replace(ctx, replacementPoints("old", 30), 10)
			if err != nil {
				t.Fatalf("initial replace failed: %v", err)
			}
			if n != 30 {
				t.Fatalf("expected 30 points, got %d", n)
			}

			var (
				mu       sync.Mutex
				sizes    = make(map[int]int)
				failures int
				wg       sync.WaitGroup
			)
			stop := make(chan struct{})
			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						hits, err := idx.Query(ctx, unit(0), 1000, nil)
						mu.Lock()
						if err != nil {
							failures++
						} else {
							sizes[len(hits)]++
						}
						mu.Unlock()
					}
				}()
			}

			n, err = idx.Replace(ctx, replacementPoints("new", 400), 25)
			close(stop)
			wg.Wait()
			if err != nil {
				t.Fatalf("replace failed: %v", err)
			}
			if n != 400 {
				t.Errorf("expected 400 points, got %d", n)
			}
			if failures != 0 {
				t.Errorf("expected no query errors during replace, got %d", failures)
			}
			for size := range sizes {
				if size != 30 && size != 400 {
					t.Errorf("expected queries to see 30 or 400 points, got %d", size)
				}
			}

			hits, err := idx.Query(ctx, unit(0), 1000, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, h := range hits {
				if h.ID[:4] != "new-" {
					t.Fatalf("expected only replacement points, found %s", h.ID)
				}
			}
		})
	}
}

func TestReplaceRejectsBadPoints(t *testing.T) {
	ctx := context.Background()
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			idx.Replace(ctx, replacementPoints("old", 5), 10)

			bad := replacementPoints("new", 5)
			bad[3].Vector = []float64{1, 2}
			if _, err := idx.Replace(ctx, bad, 10); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}

			stats, _ := idx.Stats(ctx)
			if !stats.Exists || stats.Count != 5 {
				t.Errorf("expected previous 5 points kept, got %+v", stats)
			}
			hits, _ := idx.Query(ctx, unit(0), 10, nil)
			for _, h := range hits {
				if h.ID[:4] != "old-" {
					t.Errorf("expected previous corpus, found %s", h.ID)
				}
			}
		})
	}
}

func TestBoltReplacePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replace.db")

	idx, err := NewBoltIndex(path, "cases")
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	idx.Replace(ctx, replacementPoints("old", 10), 4)
	idx.Replace(ctx, replacementPoints("new", 3), 4)
	idx.Close()

	reopened, err := NewBoltIndex(path, "cases")
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer reopened.Close()

	stats, _ := reopened.Stats(ctx)
	if stats.Count != 3 {
		t.Errorf("expected 3 persisted points after replace, got %d", stats.Count)
	}
}

func TestBoltRehydrates(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rehydrate.db")

	idx, err := NewBoltIndex(path, "cases")
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	idx.EnsureCollection(ctx)
	idx.BatchUpsert(ctx, []domain.Point{
		{ID: "a", Vector: unit(0), Case: testCase("a", 1000, domain.OutcomeSuccess)},
		{ID: "b", Vector: unit(1), Case: testCase("b", 2000, domain.OutcomeDefault)},
	}, 10)
	idx.Close()

	reopened, err := NewBoltIndex(path, "cases")
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer reopened.Close()

	stats, _ := reopened.Stats(ctx)
	if !stats.Exists || stats.Count != 2 {
		t.Fatalf("expected 2 rehydrated points, got %+v", stats)
	}
	hits, err := reopened.Query(ctx, unit(1), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits[0].ID != "b" || hits[0].Case.Outcome != domain.OutcomeDefault {
		t.Errorf("expected rehydrated payload for b, got %+v", hits[0])
	}
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere([]domain.Filter{
		{Field: "requested_amount", Op: domain.OpGTE, Value: 7000},
		{Field: "requested_amount", Op: domain.OpLTE, Value: 13000},
	}, 2)
	expected := "WHERE (payload->>'requested_amount')::double precision >= $2 AND (payload->>'requested_amount')::double precision <= $3"
	if where != expected {
		t.Errorf("expected %q, got %q", expected, where)
	}
	if len(args) != 2 || args[0] != 7000.0 || args[1] != 13000.0 {
		t.Errorf("unexpected args: %v", args)
	}

	where, args = buildWhere([]domain.Filter{{Field: "outcome", Op: domain.OpEQ, Text: "success"}}, 2)
	if where != "WHERE (payload->>'outcome') = $2" {
		t.Errorf("unexpected text clause %q", where)
	}
	if len(args) != 1 || args[0] != "success" {
		t.Errorf("expected text arg, got %v", args)
	}

	if where, _ := buildWhere(nil, 2); where != "" {
		t.Errorf("expected empty clause, got %q", where)
	}
}

func TestFormatVector(t *testing.T) {
	if got := formatVector([]float64{0.5, 1, 0}); got != "[0.5,1,0]" {
		t.Errorf("expected [0.5,1,0], got %s", got)
	}
}

func TestNewUnsupported(t *testing.T) {
	if _, err := New(domain.IndexConfig{Type: "qdrant"}); err == nil {
		t.Error("expected error for unsupported index type")
	}
}
