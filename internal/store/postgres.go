package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/SystemCRM24/tendersync/internal/db"
	"github.com/SystemCRM24/tendersync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (tests use pgxmock here).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_batches (
	id           TEXT PRIMARY KEY,
	extracted_at TIMESTAMPTZ NOT NULL,
	record_count INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS purchase_records (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL REFERENCES extraction_batches(id),
	purchase_number TEXT NOT NULL,
	winner_name     TEXT NOT NULL,
	tax_id          TEXT,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batches_extracted_at ON extraction_batches(extracted_at);
CREATE INDEX IF NOT EXISTS idx_records_batch_id ON purchase_records(batch_id);
CREATE INDEX IF NOT EXISTS idx_records_purchase_number ON purchase_records(purchase_number);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LatestExtraction(ctx context.Context) (time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(extracted_at) FROM extraction_batches`,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "postgres: latest extraction")
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return latest.UTC(), nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, extractedAt time.Time, records []model.PurchaseRecord) (*Batch, error) {
	batch := &Batch{
		ID:          uuid.NewString(),
		ExtractedAt: extractedAt.UTC(),
		RecordCount: len(records),
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_batches (id, extracted_at, record_count, created_at) VALUES ($1, $2, $3, $4)`,
		batch.ID, batch.ExtractedAt, batch.RecordCount, batch.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal record %s", rec.Key())
		}
		rows = append(rows, []any{
			uuid.NewString(), batch.ID, rec.PurchaseNumber, rec.WinnerName, rec.TaxID, payload,
		})
	}

	if _, err := db.CopyFrom(ctx, s.pool, "purchase_records",
		[]string{"id", "batch_id", "purchase_number", "winner_name", "tax_id", "payload"},
		rows,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: archive records")
	}
	return batch, nil
}
