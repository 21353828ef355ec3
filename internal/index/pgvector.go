package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// PGVectorIndex stores vectors in PostgreSQL with the pgvector extension.
// Ordering uses the cosine distance operator; similarity is 1 - distance.
type PGVectorIndex struct {
	pool    *pgxpool.Pool
	table   string // sanitized identifiers
	staging string
}

const undefinedTable = "42P01"

// NewPGVectorIndex connects to PostgreSQL. The collection is created lazily
// by EnsureCollection.
func NewPGVectorIndex(connString, collection string, maxConns int32) (*PGVectorIndex, error) {
	if connString == "" {
		return nil, fmt.Errorf("postgres url is required for pgvector index")
	}
	if collection == "" {
		collection = "credit_applications"
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.NewUnavailableError("ping postgres", err)
	}

	return &PGVectorIndex{
		pool:    pool,
		table:   pgx.Identifier{collection}.Sanitize(),
		staging: pgx.Identifier{collection + "_staging"}.Sanitize(),
	}, nil
}

// formatVector renders a vector in pgvector text form.
func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return domain.NewNotReadyError("collection does not exist", err)
	}
	return domain.NewUnavailableError(op, err)
}

func (p *PGVectorIndex) tableExists(ctx context.Context) (bool, error) {
	var reg *string
	// to_regclass parses its argument as SQL, so quoted identifiers keep their case
	if err := p.pool.QueryRow(ctx, "SELECT to_regclass($1)::text", p.table).Scan(&reg); err != nil {
		return false, domain.NewUnavailableError("check collection", err)
	}
	return reg != nil, nil
}

// EnsureCollection enables pgvector and creates the table if missing.
func (p *PGVectorIndex) EnsureCollection(ctx context.Context) (bool, error) {
	existed, err := p.tableExists(ctx)
	if err != nil {
		return false, err
	}
	if existed {
		return false, nil
	}
	if err := p.createTable(ctx, p.table); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PGVectorIndex) createTable(ctx context.Context, table string) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return domain.NewUnavailableError("enable pgvector", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			seq        BIGSERIAL,
			embedding  vector(%d) NOT NULL,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, domain.Dimension)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return domain.NewUnavailableError("create collection", err)
	}
	return nil
}

// Upsert inserts or overwrites one point.
func (p *PGVectorIndex) Upsert(ctx context.Context, id string, vector []float64, c *domain.HistoricalCase) error {
	return p.commit(ctx, []domain.Point{{ID: id, Vector: vector, Case: c}})
}

// BatchUpsert writes each chunk as one transaction carrying a pgx.Batch.
func (p *PGVectorIndex) BatchUpsert(ctx context.Context, points []domain.Point, batchSize int) (int, error) {
	return writeBatches(ctx, points, batchSize, p.commit)
}

func (p *PGVectorIndex) commit(ctx context.Context, chunk []domain.Point) error {
	return p.commitTo(ctx, p.table, chunk)
}

func (p *PGVectorIndex) commitTo(ctx context.Context, table string, chunk []domain.Point) error {
	if err := checkPoints(chunk); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload, updated_at)
		VALUES ($1, $2::vector, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`, table)

	batch := &pgx.Batch{}
	for _, pt := range chunk {
		payload, err := json.Marshal(pt.Case)
		if err != nil {
			return domain.NewValidationError(fmt.Sprintf("encode payload for %s", pt.ID), err)
		}
		batch.Queue(query, pt.ID, formatVector(pt.Vector), payload)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.NewUnavailableError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify("upsert batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit batch", err)
	}
	return nil
}

// Replace loads points into a staging table, then drops the live table and
// renames the staging table in one transaction.
func (p *PGVectorIndex) Replace(ctx context.Context, points []domain.Point, batchSize int) (int, error) {
	if err := checkPoints(points); err != nil {
		return 0, err
	}

	if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+p.staging); err != nil {
		return 0, domain.NewUnavailableError("drop staging collection", err)
	}
	if err := p.createTable(ctx, p.staging); err != nil {
		return 0, err
	}
	n, err := writeBatches(ctx, points, batchSize, func(ctx context.Context, chunk []domain.Point) error {
		return p.commitTo(ctx, p.staging, chunk)
	})
	if err != nil {
		return 0, fmt.Errorf("staged %d of %d points: %w", n, len(points), err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, domain.NewUnavailableError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+p.table); err != nil {
		return 0, domain.NewUnavailableError("drop collection", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.staging, p.table)); err != nil {
		return 0, domain.NewUnavailableError("swap collection", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, domain.NewUnavailableError("commit swap", err)
	}
	return n, nil
}

// buildWhere compiles whitelisted filters into a WHERE clause over payload.
// Placeholders start after the first argIndex-1 arguments.
func buildWhere(filters []domain.Filter, argIndex int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		op := map[domain.FilterOp]string{
			domain.OpGTE: ">=",
			domain.OpLTE: "<=",
			domain.OpGT:  ">",
			domain.OpLT:  "<",
			domain.OpEQ:  "=",
		}[f.Op]
		// f.Field comes from the closed filterable sets, validated before this point
		if domain.TextFilterFields[f.Field] {
			clauses = append(clauses, fmt.Sprintf("(payload->>'%s') = $%d", f.Field, argIndex))
			args = append(args, f.Text)
		} else {
			clauses = append(clauses, fmt.Sprintf("(payload->>'%s')::double precision %s $%d", f.Field, op, argIndex))
			args = append(args, f.Value)
		}
		argIndex++
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Query returns at most topK hits ordered by cosine distance, ties by insertion order.
func (p *PGVectorIndex) Query(ctx context.Context, vector []float64, topK int, filters []domain.Filter) ([]domain.Neighbor, error) {
	if err := checkQuery(vector, topK, filters); err != nil {
		return nil, err
	}

	where, filterArgs := buildWhere(filters, 2)
	args := append([]any{formatVector(vector)}, filterArgs...)
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, payload, embedding <=> $1::vector AS distance
		FROM %s
		%s
		ORDER BY distance, seq
		LIMIT $%d`, p.table, where, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query neighbours", err)
	}
	defer rows.Close()

	var neighbors []domain.Neighbor
	for rows.Next() {
		var (
			id       string
			payload  []byte
			distance float64
		)
		if err := rows.Scan(&id, &payload, &distance); err != nil {
			return nil, domain.NewInternalError("scan neighbour", err)
		}
		var c domain.HistoricalCase
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, domain.NewInternalError(fmt.Sprintf("decode payload for %s", id), err)
		}
		score := 1 - distance
		if math.IsNaN(score) {
			// zero-norm vectors have no defined cosine distance
			score = 0
		}
		neighbors = append(neighbors, domain.Neighbor{ID: id, Score: score, Case: &c})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate neighbours", err)
	}
	return neighbors, nil
}

// DeleteAll drops the table.
func (p *PGVectorIndex) DeleteAll(ctx context.Context) (bool, error) {
	existed, err := p.tableExists(ctx)
	if err != nil {
		return false, err
	}
	if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+p.table); err != nil {
		return false, domain.NewUnavailableError("drop collection", err)
	}
	return existed, nil
}

// Stats returns the index state.
func (p *PGVectorIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	stats := domain.IndexStats{Dimension: domain.Dimension, Metric: domain.MetricCosine}

	exists, err := p.tableExists(ctx)
	if err != nil {
		return stats, err
	}
	if !exists {
		return stats, nil
	}
	stats.Exists = true

	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+p.table).Scan(&stats.Count); err != nil {
		return stats, classify("count collection", err)
	}
	return stats, nil
}

// Close closes the pool.
func (p *PGVectorIndex) Close() error {
	p.pool.Close()
	return nil
}
