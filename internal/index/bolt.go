package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// BoltIndex is the in-process scorer with write-through persistence in a
// bbolt file. Each collection is a bucket; each batch is one bolt transaction.
type BoltIndex struct {
	db     *bbolt.DB
	bucket []byte

	// wmu orders writers so bolt commits and memory updates apply in the same order
	wmu sync.Mutex

	mu     sync.RWMutex
	exists bool
	data   *corpus
}

type boltRecord struct {
	Vector []float64              `json:"vector"`
	Case   *domain.HistoricalCase `json:"case"`
}

// NewBoltIndex opens (or creates) the bolt file and rehydrates any existing collection.
func NewBoltIndex(path, collection string) (*BoltIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if collection == "" {
		collection = "credit_applications"
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt index: %w", err)
	}

	b := &BoltIndex{
		db:     db,
		bucket: []byte(collection),
		data:   newCorpus(),
	}
	if err := b.load(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *BoltIndex) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		if bk == nil {
			return nil
		}
		b.exists = true
		return bk.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode point %s: %w", k, err)
			}
			b.data.put(string(k), rec.Vector, rec.Case)
			return nil
		})
	})
}

// EnsureCollection creates the bucket if missing.
func (b *BoltIndex) EnsureCollection(ctx context.Context) (bool, error) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	created := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(b.bucket) != nil {
			return nil
		}
		_, err := tx.CreateBucket(b.bucket)
		created = err == nil
		return err
	})
	if err != nil {
		return false, domain.NewUnavailableError("create bucket", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if created {
		b.data = newCorpus()
	}
	b.exists = true
	return created, nil
}

// Upsert inserts or overwrites one point.
func (b *BoltIndex) Upsert(ctx context.Context, id string, vector []float64, c *domain.HistoricalCase) error {
	return b.commit(ctx, []domain.Point{{ID: id, Vector: vector, Case: c}})
}

// BatchUpsert writes each chunk in its own bolt transaction.
func (b *BoltIndex) BatchUpsert(ctx context.Context, points []domain.Point, batchSize int) (int, error) {
	return writeBatches(ctx, points, batchSize, b.commit)
}

var errNoBucket = errors.New("bucket does not exist")

func (b *BoltIndex) commit(ctx context.Context, chunk []domain.Point) error {
	if err := checkPoints(chunk); err != nil {
		return err
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		if bk == nil {
			return errNoBucket
		}
		for _, p := range chunk {
			data, err := json.Marshal(boltRecord{Vector: p.Vector, Case: p.Case})
			if err != nil {
				return err
			}
			if err := bk.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errNoBucket) {
		return domain.NewNotReadyError("collection does not exist", nil)
	}
	if err != nil {
		return domain.NewUnavailableError("bolt write", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range chunk {
		b.data.put(p.ID, p.Vector, p.Case)
	}
	return nil
}

// Replace rewrites the bucket in one bolt transaction, then swaps the
// in-memory copy. Queries keep reading the previous corpus until the swap.
func (b *BoltIndex) Replace(ctx context.Context, points []domain.Point, batchSize int) (int, error) {
	next, err := buildCorpus(ctx, points)
	if err != nil {
		return 0, err
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()

	err = b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(b.bucket) != nil {
			if err := tx.DeleteBucket(b.bucket); err != nil {
				return err
			}
		}
		bk, err := tx.CreateBucket(b.bucket)
		if err != nil {
			return err
		}
		for _, p := range points {
			data, err := json.Marshal(boltRecord{Vector: p.Vector, Case: p.Case})
			if err != nil {
				return err
			}
			if err := bk.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.NewUnavailableError("bolt replace", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.exists = true
	b.data = next
	return next.len(), nil
}

// Query scores the in-memory copy of the collection.
func (b *BoltIndex) Query(ctx context.Context, vector []float64, topK int, filters []domain.Filter) ([]domain.Neighbor, error) {
	if err := checkQuery(vector, topK, filters); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.exists {
		return nil, domain.NewNotReadyError("collection does not exist", nil)
	}
	return b.data.query(vector, topK, filters), nil
}

// DeleteAll drops the bucket.
func (b *BoltIndex) DeleteAll(ctx context.Context) (bool, error) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	existed := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(b.bucket) == nil {
			return nil
		}
		existed = true
		return tx.DeleteBucket(b.bucket)
	})
	if err != nil {
		return false, domain.NewUnavailableError("drop bucket", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.exists = false
	b.data = newCorpus()
	return existed, nil
}

// Stats returns the index state.
func (b *BoltIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return domain.IndexStats{
		Exists:    b.exists,
		Count:     b.data.len(),
		Dimension: domain.Dimension,
		Metric:    domain.MetricCosine,
	}, nil
}

// Close closes the bolt file.
func (b *BoltIndex) Close() error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return b.db.Close()
}
