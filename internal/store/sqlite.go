package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/SystemCRM24/tendersync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for deployments
// without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_batches (
	id           TEXT PRIMARY KEY,
	extracted_at DATETIME NOT NULL,
	record_count INTEGER NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS purchase_records (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL REFERENCES extraction_batches(id),
	purchase_number TEXT NOT NULL,
	winner_name     TEXT NOT NULL,
	tax_id          TEXT,
	payload         TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_batches_extracted_at ON extraction_batches(extracted_at);
CREATE INDEX IF NOT EXISTS idx_records_batch_id ON purchase_records(batch_id);
CREATE INDEX IF NOT EXISTS idx_records_purchase_number ON purchase_records(purchase_number);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LatestExtraction(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(extracted_at) FROM extraction_batches`,
	).Scan(&raw)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: latest extraction")
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, nil
	}
	t, err := parseSQLiteTime(raw.String)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: parse extraction timestamp")
	}
	return t, nil
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, extractedAt time.Time, records []model.PurchaseRecord) (*Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	batch := &Batch{
		ID:          uuid.NewString(),
		ExtractedAt: extractedAt.UTC(),
		RecordCount: len(records),
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extraction_batches (id, extracted_at, record_count, created_at) VALUES (?, ?, ?, ?)`,
		batch.ID, batch.ExtractedAt.Format(sqliteTimeLayout), batch.RecordCount, batch.CreatedAt.Format(sqliteTimeLayout),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
	}

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal record %s", rec.Key())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO purchase_records (id, batch_id, purchase_number, winner_name, tax_id, payload) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), batch.ID, rec.PurchaseNumber, rec.WinnerName, rec.TaxID, string(payload),
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert record %s", rec.Key())
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit batch")
	}
	return batch, nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339, "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized timestamp %q", s)
}
